// Package controllers hosts the concrete view controllers of the
// extension. Each controller pairs a webview state shape with the
// reducers and request handlers that drive it.
package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dbview-labs/dbview/internal/history"
	"github.com/dbview-labs/dbview/internal/query"
	"github.com/dbview-labs/dbview/internal/webview"
)

// Query lifecycle statuses as surfaced to the UI.
const (
	QueryStatusIdle      = "idle"
	QueryStatusRunning   = "running"
	QueryStatusSucceeded = "succeeded"
	QueryStatusFailed    = "failed"
	QueryStatusCancelled = "cancelled"
)

// Protocol methods specific to the query editor view.
const (
	MethodRunQuery    = "runQuery"
	MethodCancelQuery = "cancelQuery"
	MethodGetHistory  = "getHistory"
)

// QueryState is the synchronized state of the query editor view.
type QueryState struct {
	Profile string      `json:"profile"`
	SQL     string      `json:"sql"`
	Status  string      `json:"status"`
	Result  *query.Grid `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// QueryController drives the query editor webview. It executes SQL
// through a driver-backed runner, mirrors progress into the view state
// and records every execution in the history store.
type QueryController struct {
	*webview.Controller[QueryState]

	runner  *query.Runner
	store   *history.Store
	profile string
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewQueryController builds a controller for the named profile. The
// history store may be nil, in which case executions are not recorded.
func NewQueryController(profile string, runner *query.Runner, store *history.Store, logger *slog.Logger, opts ...webview.Option) (*QueryController, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	opts = append([]webview.Option{webview.WithLogger(logger)}, opts...)

	qc := &QueryController{
		runner:  runner,
		store:   store,
		profile: profile,
		logger:  logger,
	}
	qc.Controller = webview.NewController("queryEditor", QueryState{
		Profile: profile,
		Status:  QueryStatusIdle,
	}, opts...)

	if err := qc.register(); err != nil {
		qc.Dispose()
		return nil, err
	}
	return qc, nil
}

func (qc *QueryController) register() error {
	if err := qc.RegisterReducer("setQuery", qc.reduceSetQuery); err != nil {
		return err
	}
	if err := qc.RegisterReducer("clearResult", qc.reduceClearResult); err != nil {
		return err
	}
	if err := qc.OnRequest(MethodRunQuery, qc.handleRunQuery); err != nil {
		return err
	}
	if err := qc.OnRequest(MethodCancelQuery, qc.handleCancelQuery); err != nil {
		return err
	}
	if err := qc.OnRequest(MethodGetHistory, qc.handleGetHistory); err != nil {
		return err
	}
	return nil
}

type setQueryPayload struct {
	SQL string `json:"sql"`
}

func (qc *QueryController) reduceSetQuery(_ context.Context, state QueryState, payload json.RawMessage) (QueryState, error) {
	var p setQueryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return state, fmt.Errorf("invalid setQuery payload: %w", err)
	}
	state.SQL = p.SQL
	return state, nil
}

func (qc *QueryController) reduceClearResult(_ context.Context, state QueryState, _ json.RawMessage) (QueryState, error) {
	state.Result = nil
	state.Error = ""
	state.Status = QueryStatusIdle
	return state, nil
}

type runQueryRequest struct {
	SQL string `json:"sql"`
}

type runQueryResult struct {
	Grid      *query.Grid `json:"grid"`
	HistoryID string      `json:"historyId,omitempty"`
}

// handleRunQuery executes the statement and responds with the result
// grid. State transitions (running, then a terminal status) are pushed
// as they happen so other consumers of the view state stay current.
func (qc *QueryController) handleRunQuery(ctx context.Context, params json.RawMessage) (any, error) {
	var req runQueryRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid runQuery params: %w", err)
	}
	if req.SQL == "" {
		req.SQL = qc.State().SQL
	}
	if req.SQL == "" {
		return nil, &webview.RPCError{Code: webview.CodeInvalidParams, Message: "no statement to run"}
	}

	runCtx, err := qc.beginRun()
	if err != nil {
		return nil, err
	}
	defer qc.endRun()

	runCtx = mergeDone(runCtx, ctx)

	state := qc.State()
	state.SQL = req.SQL
	state.Status = QueryStatusRunning
	state.Result = nil
	state.Error = ""
	qc.SetState(state)

	grid, runErr := qc.runner.Run(runCtx, req.SQL)
	// Drivers report cancellation with their own error values, so go by
	// the run context rather than the error chain.
	cancelled := runErr != nil && (runCtx.Err() != nil || errors.Is(runErr, context.Canceled))
	historyID := qc.record(req.SQL, grid, runErr, cancelled)

	state = qc.State()
	if runErr != nil {
		if cancelled {
			state.Status = QueryStatusCancelled
		} else {
			state.Status = QueryStatusFailed
			state.Error = runErr.Error()
		}
		qc.SetState(state)
		return nil, runErr
	}

	state.Status = QueryStatusSucceeded
	state.Result = grid
	state.Error = ""
	qc.SetState(state)

	return runQueryResult{Grid: grid, HistoryID: historyID}, nil
}

func (qc *QueryController) handleCancelQuery(_ context.Context, _ json.RawMessage) (any, error) {
	qc.mu.Lock()
	cancel := qc.cancel
	qc.mu.Unlock()

	if cancel == nil {
		return map[string]bool{"cancelled": false}, nil
	}
	cancel()
	return map[string]bool{"cancelled": true}, nil
}

type getHistoryRequest struct {
	Limit int `json:"limit"`
}

func (qc *QueryController) handleGetHistory(ctx context.Context, params json.RawMessage) (any, error) {
	if qc.store == nil {
		return []*history.Execution{}, nil
	}

	var req getHistoryRequest
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("invalid getHistory params: %w", err)
		}
	}

	execs, err := qc.store.List(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	if execs == nil {
		execs = []*history.Execution{}
	}
	return execs, nil
}

// beginRun reserves the single execution slot. Only one statement runs
// at a time per view.
func (qc *QueryController) beginRun() (context.Context, error) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	if qc.cancel != nil {
		return nil, &webview.RPCError{Code: webview.CodeInvalidParams, Message: "a query is already running"}
	}
	ctx, cancel := context.WithCancel(context.Background())
	qc.cancel = cancel
	return ctx, nil
}

func (qc *QueryController) endRun() {
	qc.mu.Lock()
	if qc.cancel != nil {
		qc.cancel()
		qc.cancel = nil
	}
	qc.mu.Unlock()
}

func (qc *QueryController) record(sqlText string, grid *query.Grid, runErr error, cancelled bool) string {
	if qc.store == nil {
		return ""
	}

	exec := history.Execution{
		Profile: qc.profile,
		SQL:     sqlText,
	}
	switch {
	case runErr == nil:
		exec.Status = history.StatusSucceeded
		exec.RowCount = grid.RowCount
		exec.DurationMs = grid.DurationMs
	case cancelled:
		exec.Status = history.StatusCancelled
	default:
		exec.Status = history.StatusFailed
		exec.Error = runErr.Error()
	}

	rec, err := qc.store.Record(context.Background(), exec)
	if err != nil {
		qc.logger.Warn("failed to record execution", slog.String("error", err.Error()))
		return ""
	}
	return rec.ID
}

// mergeDone cancels the returned context when either parent is done.
func mergeDone(primary, secondary context.Context) context.Context {
	merged, cancel := context.WithCancel(primary)
	go func() {
		defer cancel()
		select {
		case <-primary.Done():
		case <-secondary.Done():
		case <-merged.Done():
		}
	}()
	return merged
}
