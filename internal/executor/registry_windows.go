//go:build windows

package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sys/windows/registry"

	"github.com/openfroyo/froyo-guard/internal/changelog"
	"github.com/openfroyo/froyo-guard/internal/engineerr"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

// RegistryExecutor mutates a single Windows registry value. Grounded on the
// teacher's one-adapter-per-mechanism style (pkg/micro_runner/handlers);
// the registry API itself comes from golang.org/x/sys/windows/registry,
// already a teacher go.mod dependency.
type RegistryExecutor struct{}

func (e *RegistryExecutor) params(p *policy.Policy) (*RegistryParams, error) {
	rp := &RegistryParams{}
	if err := rp.ParseParams(p.MechanismParams); err != nil {
		return nil, engineerr.New(engineerr.ClassPermanent, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	return rp, nil
}

func (e *RegistryExecutor) hive(name string) (registry.Key, error) {
	switch name {
	case "HKEY_LOCAL_MACHINE", "HKLM":
		return registry.LOCAL_MACHINE, nil
	case "HKEY_CURRENT_USER", "HKCU":
		return registry.CURRENT_USER, nil
	case "HKEY_USERS", "HKU":
		return registry.USERS, nil
	default:
		return 0, fmt.Errorf("unrecognized registry hive %q", name)
	}
}

func (e *RegistryExecutor) ProbeApplied(ctx context.Context, p *policy.Policy) (bool, error) {
	current, err := e.GetCurrentValue(ctx, p)
	if err != nil {
		return false, err
	}
	rp, err := e.params(p)
	if err != nil {
		return false, err
	}
	return current == rp.ExpectedData, nil
}

func (e *RegistryExecutor) GetCurrentValue(_ context.Context, p *policy.Policy) (string, error) {
	rp, err := e.params(p)
	if err != nil {
		return "", err
	}
	hive, err := e.hive(rp.Hive)
	if err != nil {
		return "", engineerr.New(engineerr.ClassPermanent, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}

	key, err := registry.OpenKey(hive, rp.KeyPath, registry.QUERY_VALUE)
	if err != nil {
		if err == registry.ErrNotExist {
			return "", nil
		}
		return "", engineerr.New(engineerr.ClassTransient, "failed to open registry key", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	defer key.Close()

	switch rp.ValueType {
	case "DWORD":
		v, _, err := key.GetIntegerValue(rp.ValueName)
		if err != nil {
			if err == registry.ErrNotExist {
				return "", nil
			}
			return "", engineerr.New(engineerr.ClassTransient, "failed to read dword value", err).
				WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
		}
		return fmt.Sprintf("%d", v), nil
	default:
		v, _, err := key.GetStringValue(rp.ValueName)
		if err != nil {
			if err == registry.ErrNotExist {
				return "", nil
			}
			return "", engineerr.New(engineerr.ClassTransient, "failed to read string value", err).
				WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
		}
		return v, nil
	}
}

func (e *RegistryExecutor) Apply(ctx context.Context, p *policy.Policy) (*changelog.ChangeRecord, error) {
	rp, err := e.params(p)
	if err != nil {
		return nil, err
	}
	hive, err := e.hive(rp.Hive)
	if err != nil {
		return nil, engineerr.New(engineerr.ClassPermanent, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}

	previous, err := e.GetCurrentValue(ctx, p)
	if err != nil {
		return nil, err
	}

	record := newChangeRecord(p, fmt.Sprintf("set %s\\%s = %s", rp.KeyPath, rp.ValueName, rp.ExpectedData))
	record.PreviousState = encodeState(rp.ValueType, previous)

	if previous == rp.ExpectedData {
		record.NewState = record.PreviousState
		record.Success = true
		record.Code = engineerr.CodeAlreadyApplied
		return record, nil
	}

	key, _, err := registry.CreateKey(hive, rp.KeyPath, registry.SET_VALUE)
	if err != nil {
		record.Success = false
		record.ErrorMessage = err.Error()
		return record, engineerr.New(engineerr.ClassTransient, "failed to open registry key for write", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	defer key.Close()

	switch rp.ValueType {
	case "DWORD":
		var v uint32
		if _, scanErr := fmt.Sscanf(rp.ExpectedData, "%d", &v); scanErr != nil {
			return nil, engineerr.New(engineerr.ClassPermanent, "expected_data is not a valid DWORD", scanErr).
				WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
		}
		err = key.SetDWordValue(rp.ValueName, v)
	default:
		err = key.SetStringValue(rp.ValueName, rp.ExpectedData)
	}
	if err != nil {
		record.Success = false
		record.ErrorMessage = err.Error()
		return record, engineerr.New(engineerr.ClassTransient, "failed to write registry value", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}

	record.NewState = encodeState(rp.ValueType, rp.ExpectedData)
	record.Success = true
	return record, nil
}

func (e *RegistryExecutor) Revert(_ context.Context, p *policy.Policy, prior *changelog.ChangeRecord) (*changelog.ChangeRecord, error) {
	rp, err := e.params(p)
	if err != nil {
		return nil, err
	}
	hive, err := e.hive(rp.Hive)
	if err != nil {
		return nil, engineerr.New(engineerr.ClassPermanent, err.Error(), err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}

	var prevType, prevValue string
	if err := decodeState(prior.PreviousState, &prevType, &prevValue); err != nil {
		return nil, engineerr.New(engineerr.ClassPermanent, "cannot decode prior state", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}

	record := newChangeRecord(p, fmt.Sprintf("revert %s\\%s", rp.KeyPath, rp.ValueName))
	record.Operation = changelog.OperationRevert
	record.PreviousState = prior.NewState

	if prevValue == "" {
		if err := registry.DeleteKey(hive, rp.KeyPath); err != nil && err != registry.ErrNotExist {
			record.Success = false
			record.ErrorMessage = err.Error()
			return record, engineerr.New(engineerr.ClassTransient, "failed to delete registry key on revert", err).
				WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
		}
		record.NewState = encodeState(prevType, "")
		record.Success = true
		return record, nil
	}

	key, _, err := registry.CreateKey(hive, rp.KeyPath, registry.SET_VALUE)
	if err != nil {
		record.Success = false
		record.ErrorMessage = err.Error()
		return record, engineerr.New(engineerr.ClassTransient, "failed to open registry key for revert", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}
	defer key.Close()

	switch prevType {
	case "DWORD":
		var v uint32
		fmt.Sscanf(prevValue, "%d", &v)
		err = key.SetDWordValue(rp.ValueName, v)
	default:
		err = key.SetStringValue(rp.ValueName, prevValue)
	}
	if err != nil {
		record.Success = false
		record.ErrorMessage = err.Error()
		return record, engineerr.New(engineerr.ClassTransient, "failed to write registry value on revert", err).
			WithCode(engineerr.CodeMechanismError).WithPolicy(p.PolicyID)
	}

	record.NewState = encodeState(prevType, prevValue)
	record.Success = true
	return record, nil
}

func encodeState(valueType, value string) string {
	b, _ := json.Marshal(map[string]string{"value_type": valueType, "value": value})
	return string(b)
}

func decodeState(state string, valueType, value *string) error {
	var m map[string]string
	if err := json.Unmarshal([]byte(state), &m); err != nil {
		return err
	}
	*valueType = m["value_type"]
	*value = m["value"]
	return nil
}
