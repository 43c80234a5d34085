package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/froyo-guard/internal/changelog"
	"github.com/openfroyo/froyo-guard/internal/engine"
	"github.com/openfroyo/froyo-guard/internal/engineerr"
	"github.com/openfroyo/froyo-guard/internal/telemetry"
)

// listenerPoolSize mirrors the teacher's micro-runner accept-loop fan-out,
// narrowed to a fixed pool rather than a dynamically sized worker set
// (spec.md §5: "a listener pool of 4").
const listenerPoolSize = 4

// Server accepts connections on the named pipe endpoint and dispatches
// each decoded command to the engine, grounded on the teacher's
// micro-runner stdio server loop (pkg/micro_runner/server.go) generalized
// from one stdin/stdout pipe per subprocess to a shared named-pipe
// listener pool serving many short-lived client connections.
type Server struct {
	log      zerolog.Logger
	eng      *engine.Engine
	resolver CallerResolver
	audit    changelog.Store
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	pipePath string
}

// NewServer builds a Server bound to pipePath (normally EndpointName
// wrapped in the `\\.\pipe\` namespace by the caller). audit is the same
// changelog.Store backing the engine, used to record the command/
// authorization audit trail distinct from the change log. metrics and
// tracer are optional (nil disables instrumentation).
func NewServer(log zerolog.Logger, eng *engine.Engine, resolver CallerResolver, audit changelog.Store, metrics *telemetry.Metrics, tracer *telemetry.Tracer, pipePath string) *Server {
	return &Server{log: log, eng: eng, resolver: resolver, audit: audit, metrics: metrics, tracer: tracer, pipePath: pipePath}
}

// Serve opens listenerPoolSize named-pipe listeners sharing one pipe path
// (Windows honors this as a single logical endpoint with connection
// balancing across instances) and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	cfg := &winio.PipeConfig{
		SecurityDescriptor: "",
		MessageMode:        false,
		InputBufferSize:    int32(MaxMessageBytes),
		OutputBufferSize:   int32(MaxMessageBytes),
	}

	errCh := make(chan error, listenerPoolSize)
	for i := 0; i < listenerPoolSize; i++ {
		ln, err := winio.ListenPipe(s.pipePath, cfg)
		if err != nil {
			return err
		}
		go s.acceptLoop(ctx, ln, errCh)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, errCh chan<- error) {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errCh <- err
			return
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	pid, err := pipeClientProcessID(conn)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to resolve connecting process id, closing connection")
		return
	}

	dec := NewDecoder(conn)
	enc := NewEncoder(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(IdleTimeout))

		cmd, err := dec.DecodeCommand()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Msg("connection closed")
			}
			return
		}

		resp := s.dispatch(ctx, cmd, pid, enc)
		if err := enc.Encode(resp); err != nil {
			s.log.Warn().Err(err).Msg("failed to write response")
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, cmd *Command, callerPID uint32, enc *Encoder) *Response {
	resp := &Response{CommandID: cmd.CommandID, Timestamp: time.Now()}
	actor := fmt.Sprintf("pid:%d", callerPID)
	log := s.log.With().
		Str("command_id", cmd.CommandID).
		Uint32("caller_pid", callerPID).
		Str("command_type", string(cmd.CommandType)).
		Logger()

	if s.metrics != nil {
		s.metrics.RecordCommandStarted(string(cmd.CommandType))
	}
	timer := telemetry.NewTimer()
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.StartCommandSpan(ctx, cmd.CommandID, string(cmd.CommandType))
		defer span.End()
	}

	defer func() {
		status := "success"
		if len(resp.Errors) > 0 {
			status = "error"
		}
		if s.metrics != nil {
			s.metrics.RecordCommandCompleted(string(cmd.CommandType), status, timer.Duration())
		}
		log.Debug().Str("status", status).Dur("duration", timer.Duration()).Msg("command dispatched")
		s.recordAudit(ctx, cmd, actor, resp)
	}()

	if err := ValidateEnvelope(cmd); err != nil {
		resp.Errors = []ResponseError{errorToResponse(err)}
		return resp
	}

	if RequiresPrivilege(cmd.CommandType) {
		caller, err := s.resolver.Resolve(callerPID)
		if err == nil {
			actor = fmt.Sprintf("pid:%d integrity:%d admin:%t", callerPID, caller.IntegrityRID, caller.IsAdministrator)
		}
		if err != nil || !caller.AuthorizedForPrivileged() {
			resp.Errors = []ResponseError{{
				Code:    engineerr.CodeUnauthorized,
				Message: "caller is not authorized to issue this command",
			}}
			return resp
		}
	}

	var result interface{}
	var err error

	switch cmd.CommandType {
	case CommandAudit:
		var payload AuditPayload
		if err = DecodePayload(cmd, &payload); err == nil {
			result, err = s.eng.Audit(ctx, payload.PolicyIDs)
		}
	case CommandApply:
		var payload ApplyPayload
		if err = DecodePayload(cmd, &payload); err == nil {
			result, err = s.dispatchApply(ctx, cmd.CommandID, payload, enc)
		}
	case CommandRevert:
		var payload RevertPayload
		if err = DecodePayload(cmd, &payload); err == nil {
			req := engine.RevertRequest{
				Selector: engine.RevertSelector{
					PolicyIDs:  payload.PolicyIDs,
					SnapshotID: payload.SnapshotID,
					AllApplied: payload.AllApplied,
				},
				RequestRestorePoint: payload.CreateRestorePoint,
			}
			result, err = s.eng.Revert(ctx, req)
		}
	case CommandGetState:
		var payload GetStatePayload
		if err = DecodePayload(cmd, &payload); err == nil {
			result, err = s.eng.GetState(ctx, engine.GetStateRequest{
				PolicyIDs:      payload.PolicyIDs,
				IncludeHistory: payload.IncludeHistory,
			})
		}
	case CommandGetPolicies:
		result, err = s.eng.Policies()
	case CommandDetectDrift:
		var payload DetectDriftPayload
		if err = DecodePayload(cmd, &payload); err == nil {
			result, err = s.eng.DetectDrift(ctx, payload.SnapshotID)
		}
	case CommandCreateSnapshot:
		var payload CreateSnapshotPayload
		if err = DecodePayload(cmd, &payload); err == nil {
			result, err = s.eng.CreateSnapshot(ctx, engine.CreateSnapshotRequest{
				Description:         payload.Description,
				RequestRestorePoint: payload.CreateRestorePoint,
			})
		}
	}

	if err != nil {
		resp.Errors = []ResponseError{errorToResponse(err)}
		return resp
	}

	resp.Success = true
	if result != nil {
		b, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			resp.Success = false
			resp.Errors = []ResponseError{{Code: engineerr.CodeValidationFailed, Message: "failed to marshal result"}}
			return resp
		}
		resp.Result = b
	}
	return resp
}

// dispatchApply streams ProgressFrameMessages for the duration of the
// Apply call, then returns the terminal ApplyResult for the caller's
// final Response line (spec.md §5: "progress frames, then a terminal
// result").
func (s *Server) dispatchApply(ctx context.Context, commandID string, payload ApplyPayload, enc *Encoder) (*engine.ApplyResult, error) {
	progress := make(chan engine.ProgressFrame, 8)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for frame := range progress {
			_ = enc.Encode(ProgressFrameMessage{
				CommandID:       commandID,
				Percent:         frame.Percent,
				Message:         frame.Message,
				CurrentPolicyID: frame.CurrentPolicyID,
			})
		}
	}()

	req := engine.ApplyRequest{
		PolicyIDs:           payload.PolicyIDs,
		DryRun:              payload.DryRun,
		ContinueOnError:     payload.ContinueOnError,
		RequestRestorePoint: payload.CreateRestorePoint,
		Description:         payload.Description,
	}
	result, err := s.eng.Apply(ctx, req, progress)
	close(progress)
	<-done
	return result, err
}

// recordAudit appends one operator-trail entry per dispatched command,
// success or denial, distinct from the per-policy change log.
func (s *Server) recordAudit(ctx context.Context, cmd *Command, actor string, resp *Response) {
	if s.audit == nil {
		return
	}
	details := "ok"
	if len(resp.Errors) > 0 {
		details = fmt.Sprintf("denied: %s", resp.Errors[0].Message)
	}
	if err := s.audit.RecordAudit(ctx, string(cmd.CommandType), actor, cmd.CommandID, details); err != nil {
		s.log.Warn().Err(err).Str("command_id", cmd.CommandID).Msg("failed to record audit entry")
	}
}

func errorToResponse(err error) ResponseError {
	var ee *engineerr.Error
	if errors.As(err, &ee) {
		return ResponseError{
			Code:     ee.Code,
			Message:  ee.Message,
			PolicyID: ee.PolicyID,
			Details:  ee.Error(),
		}
	}
	return ResponseError{Code: engineerr.CodeMechanismError, Message: err.Error()}
}
