package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/froyo-guard/internal/catalog"
	"github.com/openfroyo/froyo-guard/internal/changelog"
	"github.com/openfroyo/froyo-guard/internal/engineerr"
	"github.com/openfroyo/froyo-guard/internal/executor"
	"github.com/openfroyo/froyo-guard/internal/policy"
	"github.com/openfroyo/froyo-guard/internal/restorepoint"
	"github.com/openfroyo/froyo-guard/internal/sysinfo"
	"github.com/openfroyo/froyo-guard/internal/telemetry"
)

// catalogView is an atomically-swappable read handle, letting Audit/Apply
// pick up a consistent catalog snapshot even while a concurrent reload is
// in flight (spec.md §5's "reload swaps the entire catalog snapshot
// atomically behind a read pointer").
type catalogView struct {
	policies []policy.Policy
	resolver *catalog.Resolver
}

// Engine is the Policy Engine orchestrator (spec.md §4.5). Mutating
// operations (Apply, Revert) are serialized by writeMu, per spec.md §5;
// read operations (Audit, GetState, DetectDrift) take no lock and may run
// concurrently with each other and with a mutating operation in progress,
// consistent with catalog/store being read-mostly structures of their own.
type Engine struct {
	log zerolog.Logger

	catalog atomic.Pointer[catalogView]

	store      changelog.Store
	executors  *executor.Registry
	restore    restorepoint.Manager
	probe      sysinfo.Prober

	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer

	writeMu sync.Mutex
}

// New constructs an Engine. Call SetCatalog before serving any requests.
// metrics and tracer are optional (nil disables instrumentation), used by
// the composition root wiring internal/telemetry.
func New(log zerolog.Logger, store changelog.Store, executors *executor.Registry, restore restorepoint.Manager, probe sysinfo.Prober, metrics *telemetry.Metrics, tracer *telemetry.Tracer) *Engine {
	return &Engine{
		log:       log,
		store:     store,
		executors: executors,
		restore:   restore,
		probe:     probe,
		metrics:   metrics,
		tracer:    tracer,
	}
}

// SetCatalog atomically swaps the active catalog snapshot.
func (e *Engine) SetCatalog(policies []policy.Policy) {
	e.catalog.Store(&catalogView{
		policies: policies,
		resolver: catalog.NewResolver(policies),
	})
}

// Policies returns the currently loaded catalog, for the read-only
// getPolicies command.
func (e *Engine) Policies() ([]policy.Policy, error) {
	v, err := e.view()
	if err != nil {
		return nil, err
	}
	return v.policies, nil
}

func (e *Engine) view() (*catalogView, error) {
	v := e.catalog.Load()
	if v == nil {
		return nil, engineerr.New(engineerr.ClassPermanent, "catalog not loaded", nil).
			WithCode(engineerr.CodeStoreUnavailable)
	}
	return v, nil
}

func (e *Engine) resolveTargets(requestedIDs []string) (*catalogView, []string, error) {
	v, err := e.view()
	if err != nil {
		return nil, nil, err
	}
	ids := requestedIDs
	if len(ids) == 0 {
		ids = make([]string, 0, len(v.policies))
		for _, p := range v.policies {
			ids = append(ids, p.PolicyID)
		}
	}
	return v, ids, nil
}

// Audit resolves the caller's requested policy subset (or all), gates
// each by applicability, probes current state, and compares against the
// expected value. No state is mutated (spec.md §4.5).
func (e *Engine) Audit(ctx context.Context, requestedIDs []string) (*AuditResult, error) {
	v, ids, err := e.resolveTargets(requestedIDs)
	if err != nil {
		return nil, err
	}
	byID := indexPolicies(v.policies)

	info, err := e.probe.Probe(ctx)
	if err != nil {
		return nil, engineerr.New(engineerr.ClassTransient, "failed to probe system info", err).
			WithCode(engineerr.CodeMechanismError)
	}

	items := make([]AuditItem, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			continue
		}

		item := AuditItem{PolicyID: id, ExpectedValue: p.ExpectedValue}

		applicable, reason := checkApplicability(p, info)
		item.Applicable = applicable
		item.NotApplicableReason = reason
		if !applicable {
			items = append(items, item)
			continue
		}

		ex, exErr := e.executors.For(p)
		if exErr != nil {
			item.DriftDescription = exErr.Error()
			items = append(items, item)
			continue
		}

		applied, probeErr := ex.ProbeApplied(ctx, p)
		if probeErr != nil {
			item.DriftDescription = probeErr.Error()
			items = append(items, item)
			continue
		}
		item.Applied = applied

		current, curErr := ex.GetCurrentValue(ctx, p)
		if curErr == nil {
			item.CurrentValue = current
		}

		item.Matches = applied && (p.ExpectedValue == "" || current == p.ExpectedValue)
		if !item.Matches {
			item.DriftDescription = fmt.Sprintf("expected %q, observed %q", p.ExpectedValue, current)
		}

		items = append(items, item)
	}

	return &AuditResult{Items: items, SystemInfo: fmt.Sprintf("%+v", info), AuditedAt: time.Now().UTC()}, nil
}

// Apply is the only mutating entry point. It transcribes the state
// machine of spec.md §4.5 verbatim: RESOLVING -> GATING -> SNAPSHOTTING ->
// APPLYING(i) -> REPORTING, with a CANCELLING -> PARTIAL_RESULT branch
// reachable from any state via ctx cancellation.
func (e *Engine) Apply(ctx context.Context, req ApplyRequest, progress chan<- ProgressFrame) (*ApplyResult, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	cur := stateResolving
	v, ids, err := e.resolveTargets(req.PolicyIDs)
	if err != nil {
		return nil, err
	}

	resolution, err := v.resolver.Resolve(ids)
	if err != nil {
		return nil, err
	}
	if conflicts := resolution.ConflictsWithSelection(); len(conflicts) > 0 {
		c := conflicts[0]
		return nil, engineerr.New(engineerr.ClassConflict,
			fmt.Sprintf("conflicting policies in selection: %s vs %s", c.PolicyID, c.OtherPolicyID), nil).
			WithCode(engineerr.CodeConflictingPolicies)
	}

	cur = stateGating
	byID := indexPolicies(v.policies)
	info, err := e.probe.Probe(ctx)
	if err != nil {
		return nil, engineerr.New(engineerr.ClassTransient, "failed to probe system info", err).
			WithCode(engineerr.CodeMechanismError)
	}

	var warnings []string
	applicableIDs := make(map[string]bool, len(resolution.PolicyIDs))
	for _, id := range resolution.PolicyIDs {
		p := byID[id]
		if p == nil {
			continue
		}
		applicable, reason := checkApplicability(p, info)
		if !applicable {
			warnings = append(warnings, fmt.Sprintf("%s: not applicable (%s)", id, reason))
			continue
		}
		applicableIDs[id] = true
	}

	cur = stateSnapshotting
	var restorePointID string
	if req.RequestRestorePoint && !req.DryRun {
		id, available, rpErr := e.restore.Create(ctx, req.Description)
		if rpErr != nil {
			warnings = append(warnings, fmt.Sprintf("restore point creation failed: %v", rpErr))
		} else if !available {
			warnings = append(warnings, "restore point unavailable on this host")
		} else {
			restorePointID = id
		}
	}

	snapshotID := uuid.New().String()
	if req.DryRun {
		snapshotID = changelog.AdhocSnapshotID
	} else if err := e.store.CreateSnapshot(ctx, &changelog.Snapshot{
		SnapshotID:     snapshotID,
		CreatedAt:      time.Now().UTC(),
		Description:    req.Description,
		SystemInfoJSON: fmt.Sprintf("%+v", info),
		RestorePointID: restorePointID,
	}); err != nil {
		return nil, engineerr.New(engineerr.ClassTransient, "failed to create snapshot", err).
			WithCode(engineerr.CodePersistenceFailed)
	}

	if req.DryRun {
		cur = stateApplying
		var dryApplied []string
		total := countApplicable(resolution.Levels, applicableIDs)
		done := 0
		for _, level := range resolution.Levels {
			for _, id := range level {
				if !applicableIDs[id] {
					continue
				}
				done++
				if progress != nil {
					percent := int(float64(done) / float64(max(total, 1)) * 100)
					select {
					case progress <- ProgressFrame{Percent: percent, Message: "would apply (dry run)", CurrentPolicyID: id}:
					case <-ctx.Done():
					}
				}
				dryApplied = append(dryApplied, id)
			}
		}

		cur = stateReporting
		if progress != nil {
			select {
			case progress <- ProgressFrame{Percent: 100, Message: "dry run complete"}:
			case <-ctx.Done():
			}
		}
		return &ApplyResult{
			Applied:        dryApplied,
			Changes:        []changelog.ChangeRecord{},
			SnapshotID:     snapshotID,
			RestorePointID: restorePointID,
			CompletedAt:    time.Now().UTC(),
			Warnings:       warnings,
		}, nil
	}

	cur = stateApplying
	var applied, failed []string
	var changesOut []changelog.ChangeRecord
	var restartNeeded []string
	total := countApplicable(resolution.Levels, applicableIDs)
	done := 0
	var merr *multierror.Error
	partial := false

	for _, level := range resolution.Levels {
		for _, id := range level {
			if !applicableIDs[id] {
				continue
			}

			select {
			case <-ctx.Done():
				partial = true
				cur = stateCancelling
			default:
			}
			if partial {
				break
			}

			p := byID[id]
			if progress != nil {
				done++
				percent := int(float64(done) / float64(max(total, 1)) * 100)
				select {
				case progress <- ProgressFrame{Percent: percent, Message: "applying", CurrentPolicyID: id}:
				case <-ctx.Done():
				}
			}

			ex, exErr := e.executors.For(p)
			if exErr != nil {
				failed = append(failed, id)
				merr = multierror.Append(merr, exErr)
				if !req.ContinueOnError {
					cur = stateFailedTerminal
					break
				}
				continue
			}

			spanCtx := ctx
			var span trace.Span
			if e.tracer != nil {
				spanCtx, span = e.tracer.StartApplySpan(ctx, id, string(p.Mechanism))
			}
			timer := telemetry.NewTimer()

			record, applyErr := ex.Apply(spanCtx, p)

			if span != nil {
				telemetry.RecordError(span, applyErr)
				if applyErr == nil {
					telemetry.RecordSuccess(span)
				}
				span.End()
			}
			if e.metrics != nil {
				status := "success"
				if applyErr != nil {
					status = "failure"
				}
				e.metrics.RecordPolicyApplied(id, status, string(p.Mechanism), timer.Duration())
				e.metrics.RecordMechanismCall(string(p.Mechanism), "apply", timer.Duration(), applyErr)
			}

			if record != nil {
				record.SnapshotID = snapshotID
				if journalErr := e.store.AppendChange(ctx, record); journalErr != nil {
					merr = multierror.Append(merr, journalErr)
				}
				changesOut = append(changesOut, *record)
			}

			if applyErr != nil {
				failed = append(failed, id)
				merr = multierror.Append(merr, applyErr)
				if e.metrics != nil {
					var ee *engineerr.Error
					if errors.As(applyErr, &ee) {
						e.metrics.RecordError(string(ee.Class), ee.Code)
					}
				}
				if !req.ContinueOnError {
					cur = stateFailedTerminal
					break
				}
				continue
			}

			applied = append(applied, id)
			if p.Reversibility.RequiresRestart {
				restartNeeded = append(restartNeeded, id)
			}
		}
		if cur == stateFailedTerminal || partial {
			break
		}
	}

	cur = stateReporting
	if progress != nil && !partial {
		select {
		case progress <- ProgressFrame{Percent: 100, Message: "completed"}:
		case <-ctx.Done():
		}
	}

	result := &ApplyResult{
		Applied:                  applied,
		Failed:                   failed,
		Changes:                  changesOut,
		SnapshotID:               snapshotID,
		RestorePointID:           restorePointID,
		CompletedAt:              time.Now().UTC(),
		RestartRecommended:       len(restartNeeded) > 0,
		PoliciesRequiringRestart: restartNeeded,
		Partial:                  partial,
		Warnings:                 warnings,
	}

	cur = stateIdle
	_ = cur

	if partial {
		return result, nil
	}
	if merr != nil && merr.Len() > 0 && !req.ContinueOnError && len(failed) > 0 {
		return result, engineerr.New(engineerr.ClassPermanent, "apply failed", merr.ErrorOrNil()).
			WithCode(engineerr.CodeMechanismError)
	}
	return result, nil
}

func countApplicable(levels [][]string, applicable map[string]bool) int {
	n := 0
	for _, level := range levels {
		for _, id := range level {
			if applicable[id] {
				n++
			}
		}
	}
	return n
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Revert selects change records to undo (by policy-id list, snapshot id,
// or "all applied") and invokes each matching executor's Revert in
// reverse insertion order, journaling new change records under a fresh
// snapshot (spec.md §4.5).
func (e *Engine) Revert(ctx context.Context, req RevertRequest) (*ApplyResult, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	v, err := e.view()
	if err != nil {
		return nil, err
	}
	byID := indexPolicies(v.policies)

	var toRevert []changelog.ChangeRecord
	switch {
	case req.Selector.SnapshotID != "":
		records, revErr := e.store.ChangesForSnapshot(ctx, req.Selector.SnapshotID)
		if revErr != nil {
			return nil, engineerr.New(engineerr.ClassTransient, "failed to load snapshot changes", revErr).
				WithCode(engineerr.CodeUnknownSnapshot)
		}
		toRevert = records
	case len(req.Selector.PolicyIDs) > 0:
		for _, id := range req.Selector.PolicyIDs {
			rec, latErr := e.store.LatestChangeForPolicy(ctx, id)
			if latErr != nil || rec == nil {
				continue
			}
			toRevert = append(toRevert, *rec)
		}
	case req.Selector.AllApplied:
		all, allErr := e.store.AllChanges(ctx, 10000, 0)
		if allErr != nil {
			return nil, engineerr.New(engineerr.ClassTransient, "failed to load change history", allErr).
				WithCode(engineerr.CodeStoreUnavailable)
		}
		seen := make(map[string]bool)
		for _, c := range all {
			if c.Success && c.Operation == changelog.OperationApply && !seen[c.PolicyID] {
				toRevert = append(toRevert, c)
				seen[c.PolicyID] = true
			}
		}
		// all is newest-first; flip to insertion order so the reverse loop
		// below undoes the newest change first.
		for i, j := 0, len(toRevert)-1; i < j; i, j = i+1, j-1 {
			toRevert[i], toRevert[j] = toRevert[j], toRevert[i]
		}
	}

	var restorePointID string
	if req.RequestRestorePoint {
		id, available, rpErr := e.restore.Create(ctx, "pre-revert checkpoint")
		if rpErr == nil && available {
			restorePointID = id
		}
	}

	newSnapshotID := uuid.New().String()
	if err := e.store.CreateSnapshot(ctx, &changelog.Snapshot{
		SnapshotID:     newSnapshotID,
		CreatedAt:      time.Now().UTC(),
		Description:    "revert session",
		SystemInfoJSON: "{}",
		RestorePointID: restorePointID,
	}); err != nil {
		return nil, engineerr.New(engineerr.ClassTransient, "failed to create revert snapshot", err).
			WithCode(engineerr.CodePersistenceFailed)
	}

	var applied, failed []string
	var changesOut []changelog.ChangeRecord
	for i := len(toRevert) - 1; i >= 0; i-- {
		prior := toRevert[i]
		p, ok := byID[prior.PolicyID]
		if !ok {
			failed = append(failed, prior.PolicyID)
			continue
		}
		ex, exErr := e.executors.For(p)
		if exErr != nil {
			failed = append(failed, prior.PolicyID)
			continue
		}

		record, revertErr := ex.Revert(ctx, p, &prior)
		if record != nil {
			record.SnapshotID = newSnapshotID
			if journalErr := e.store.AppendChange(ctx, record); journalErr != nil {
				e.log.Error().Err(journalErr).Str("policy_id", p.PolicyID).Msg("failed to journal revert change")
			}
			changesOut = append(changesOut, *record)
		}
		if revertErr != nil {
			failed = append(failed, prior.PolicyID)
			continue
		}
		applied = append(applied, prior.PolicyID)
	}

	return &ApplyResult{
		Applied:        applied,
		Failed:         failed,
		Changes:        changesOut,
		SnapshotID:     newSnapshotID,
		RestorePointID: restorePointID,
		CompletedAt:    time.Now().UTC(),
	}, nil
}

// GetState returns the current applied-policy set and, if requested, full
// change history (spec.md §4.5).
func (e *Engine) GetState(ctx context.Context, req GetStateRequest) (*GetStateResult, error) {
	v, ids, err := e.resolveTargets(req.PolicyIDs)
	if err != nil {
		return nil, err
	}
	byID := indexPolicies(v.policies)

	result := &GetStateResult{}
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			continue
		}
		ex, exErr := e.executors.For(p)
		if exErr != nil {
			continue
		}
		applied, probeErr := ex.ProbeApplied(ctx, p)
		if probeErr == nil && applied {
			result.Applied = append(result.Applied, id)
		}
	}

	if req.IncludeHistory {
		history, histErr := e.store.AllChanges(ctx, 1000, 0)
		if histErr != nil {
			return nil, engineerr.New(engineerr.ClassTransient, "failed to load history", histErr).
				WithCode(engineerr.CodeStoreUnavailable)
		}
		result.History = history
	}

	return result, nil
}

// DetectDrift compares the most recent (or explicitly named) snapshot's
// promised policy states against current probed state (spec.md §4.7).
func (e *Engine) DetectDrift(ctx context.Context, snapshotID string) (*DriftResult, error) {
	v, err := e.view()
	if err != nil {
		return nil, err
	}
	byID := indexPolicies(v.policies)

	var snap *changelog.Snapshot
	if snapshotID == "" {
		snap, err = e.store.MostRecentSnapshot(ctx)
		if err != nil {
			return nil, engineerr.New(engineerr.ClassTransient, "failed to load most recent snapshot", err).
				WithCode(engineerr.CodeStoreUnavailable)
		}
		if snap == nil {
			return &DriftResult{CheckedAt: time.Now().UTC()}, nil
		}
	} else {
		snap, err = e.store.GetSnapshot(ctx, snapshotID)
		if err != nil {
			return nil, engineerr.New(engineerr.ClassPermanent, "unknown snapshot", err).
				WithCode(engineerr.CodeUnknownSnapshot)
		}
	}

	states, err := e.store.ListSnapshotPolicyStates(ctx, snap.SnapshotID)
	if err != nil {
		return nil, engineerr.New(engineerr.ClassTransient, "failed to load snapshot policy states", err).
			WithCode(engineerr.CodeStoreUnavailable)
	}

	var items []DriftItem
	for _, st := range states {
		if !st.IsApplied {
			continue
		}
		p, ok := byID[st.PolicyID]
		if !ok {
			continue
		}
		ex, exErr := e.executors.For(p)
		if exErr != nil {
			continue
		}
		applied, probeErr := ex.ProbeApplied(ctx, p)
		if probeErr != nil {
			continue
		}
		if !applied {
			current, _ := ex.GetCurrentValue(ctx, p)
			items = append(items, DriftItem{
				PolicyID:      st.PolicyID,
				ExpectedValue: st.CurrentValue,
				CurrentValue:  current,
				DriftReason:   "expected applied state no longer observed",
			})
		}
	}

	return &DriftResult{SnapshotID: snap.SnapshotID, Items: items, CheckedAt: time.Now().UTC()}, nil
}

// CreateSnapshot captures system info and opens a snapshot with optional
// restore-point linkage, without mutating any policy state (spec.md
// §4.5). Used as an explicit baseline before external operations.
func (e *Engine) CreateSnapshot(ctx context.Context, req CreateSnapshotRequest) (*changelog.Snapshot, error) {
	v, err := e.view()
	if err != nil {
		return nil, err
	}

	info, err := e.probe.Probe(ctx)
	if err != nil {
		return nil, engineerr.New(engineerr.ClassTransient, "failed to probe system info", err).
			WithCode(engineerr.CodeMechanismError)
	}

	var restorePointID string
	if req.RequestRestorePoint {
		id, available, rpErr := e.restore.Create(ctx, req.Description)
		if rpErr == nil && available {
			restorePointID = id
		}
	}

	snap := &changelog.Snapshot{
		SnapshotID:     uuid.New().String(),
		CreatedAt:      time.Now().UTC(),
		Description:    req.Description,
		SystemInfoJSON: fmt.Sprintf("%+v", info),
		RestorePointID: restorePointID,
	}
	if err := e.store.CreateSnapshot(ctx, snap); err != nil {
		return nil, engineerr.New(engineerr.ClassTransient, "failed to create snapshot", err).
			WithCode(engineerr.CodePersistenceFailed)
	}

	states := e.probeAllPolicyStates(ctx, snap.SnapshotID, v.policies)
	if len(states) > 0 {
		if err := e.store.PutSnapshotPolicyStates(ctx, snap.SnapshotID, states); err != nil {
			e.log.Warn().Err(err).Msg("failed to persist snapshot policy states")
		}
	}

	return snap, nil
}

// snapshotProbeConcurrency bounds how many policies are probed at once
// when building a baseline snapshot; the probes are independent reads
// against OS mechanisms, so fanning them out shortens wall-clock time on
// a catalog with many policies without risking the ordering or
// cancellation semantics Apply depends on.
const snapshotProbeConcurrency = 8

// probeAllPolicyStates probes ProbeApplied/GetCurrentValue for every
// policy in the catalog concurrently, bounded by snapshotProbeConcurrency.
func (e *Engine) probeAllPolicyStates(ctx context.Context, snapshotID string, policies []policy.Policy) []changelog.SnapshotPolicyState {
	results := make([]*changelog.SnapshotPolicyState, len(policies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(snapshotProbeConcurrency)

	for i := range policies {
		i := i
		p := policies[i]
		g.Go(func() error {
			ex, exErr := e.executors.For(&p)
			if exErr != nil {
				return nil
			}
			applied, probeErr := ex.ProbeApplied(gctx, &p)
			if probeErr != nil {
				return nil
			}
			current, _ := ex.GetCurrentValue(gctx, &p)
			results[i] = &changelog.SnapshotPolicyState{
				SnapshotID:   snapshotID,
				PolicyID:     p.PolicyID,
				IsApplied:    applied,
				CurrentValue: current,
			}
			return nil
		})
	}
	_ = g.Wait()

	states := make([]changelog.SnapshotPolicyState, 0, len(policies))
	for _, s := range results {
		if s != nil {
			states = append(states, *s)
		}
	}
	return states
}
