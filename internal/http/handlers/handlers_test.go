package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/workspace-audit/internal/actions"
	"github.com/open-sspm/workspace-audit/internal/activity"
	"github.com/open-sspm/workspace-audit/internal/asset"
	"github.com/open-sspm/workspace-audit/internal/scan"
)

type fakeAssets struct {
	gotFilters asset.Filters
	gotSort    asset.Sort
	gotLimit   int
	gotOffset  int
	result     asset.ListResult
	stats      asset.Stats
	err        error
}

func (f *fakeAssets) GetAssets(_ context.Context, filters asset.Filters, sort asset.Sort, limit, offset int) (asset.ListResult, error) {
	f.gotFilters, f.gotSort, f.gotLimit, f.gotOffset = filters, sort, limit, offset
	return f.result, f.err
}

func (f *fakeAssets) GetStats(context.Context) (asset.Stats, error) {
	return f.stats, f.err
}

type fakeActions struct {
	single    func(rawID string, action asset.Action) actions.Result
	batchIDs  []string
	batchErr  error
	batchCall int
}

func (f *fakeActions) PerformAction(_ context.Context, rawID string, action asset.Action) actions.Result {
	return f.single(rawID, action)
}

func (f *fakeActions) PerformBatch(_ context.Context, rawIDs []string, action asset.Action) (actions.BatchResult, error) {
	f.batchCall++
	f.batchIDs = rawIDs
	if f.batchErr != nil {
		return actions.BatchResult{}, f.batchErr
	}
	out := actions.BatchResult{Action: action}
	for _, id := range rawIDs {
		out.Items = append(out.Items, actions.Result{ID: id, Action: action, Success: true})
		out.Succeeded++
	}
	return out, nil
}

type fakeScans struct {
	snap      scan.Snapshot
	startErr  error
	gotOpts   scan.Options
	cancelled []asset.Platform
}

func (f *fakeScans) StartBackground(platform asset.Platform, opts scan.Options) (scan.Snapshot, error) {
	f.gotOpts = opts
	snap := f.snap
	snap.Platform = platform
	return snap, f.startErr
}

func (f *fakeScans) ResumeBackground(platform asset.Platform) (scan.Snapshot, error) {
	return scan.Snapshot{Platform: platform}, scan.ErrNothingToResume
}

func (f *fakeScans) Cancel(platform asset.Platform) (scan.Snapshot, error) {
	f.cancelled = append(f.cancelled, platform)
	return scan.Snapshot{Platform: platform, Phase: scan.PhaseRunning}, nil
}

func (f *fakeScans) Progress(platform asset.Platform) (scan.Snapshot, error) {
	return scan.Snapshot{Platform: platform, Phase: scan.PhaseIdle}, nil
}

func (f *fakeScans) Snapshots() []scan.Snapshot { return nil }

type fakeActivity struct {
	entries  []activity.Entry
	gotLimit int
	cleared  bool
}

func (f *fakeActivity) List(_ context.Context, limit int) ([]activity.Entry, error) {
	f.gotLimit = limit
	return f.entries, nil
}

func (f *fakeActivity) Clear(context.Context) error {
	f.cleared = true
	return nil
}

func newTestContext(method, target string, body io.Reader) (*echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRenderErrorDoesNotLeakError(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "http://example.com/test", nil)
	c.Set(ContextKeyRequestID, "req-123")

	h := &Handlers{}
	if err := h.RenderError(c, errors.New("vault token=secret")); err != nil {
		t.Fatalf("RenderError: %v", err)
	}

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want %d", rec.Code, http.StatusInternalServerError)
	}
	body := rec.Body.String()
	if strings.Contains(body, "vault token") || strings.Contains(body, "secret") {
		t.Fatalf("response leaked error details: %q", body)
	}
	if !strings.Contains(body, "Reference: req-123") {
		t.Fatalf("response missing request reference: %q", body)
	}
	if !strings.Contains(body, "Code: "+InternalErrorCode) {
		t.Fatalf("response missing error code: %q", body)
	}
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
		ok     bool
	}{
		{"validation", asset.Invalid("bad"), http.StatusBadRequest, asset.CodeValidation, true},
		{"decode", &asset.Error{Kind: asset.ErrDecode}, http.StatusBadRequest, asset.CodeDecode, true},
		{"unsupported", asset.Unsupported("no"), http.StatusBadRequest, asset.CodeUnsupportedAction, true},
		{"not found", &asset.Error{Kind: asset.ErrNotFound}, http.StatusNotFound, asset.CodeNotFound, true},
		{"source down", asset.SourceUnavailable("gmail", errors.New("503")), http.StatusBadGateway, asset.CodeSourceUnavailable, true},
		{"scan running", scan.ErrScanRunning, http.StatusConflict, CodeScanConflict, true},
		{"nothing to resume", scan.ErrNothingToResume, http.StatusConflict, CodeScanConflict, true},
		{"internal", errors.New("boom"), http.StatusInternalServerError, InternalErrorCode, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			status, code, ok := ErrorStatus(tt.err)
			if status != tt.status || code != tt.code || ok != tt.ok {
				t.Fatalf("ErrorStatus() = (%d, %q, %v), want (%d, %q, %v)", status, code, ok, tt.status, tt.code, tt.ok)
			}
		})
	}
}

func TestHandleAssetsParsesQuery(t *testing.T) {
	t.Parallel()

	assets := &fakeAssets{result: asset.ListResult{Total: 0, Limit: 10}}
	h := &Handlers{Assets: assets}
	c, rec := newTestContext(http.MethodGet, "/api/assets?types=file&riskLevels=medium,high&isPublic=true&sort=name&order=asc&limit=10&offset=20", nil)

	if err := h.HandleAssets(c); err != nil {
		t.Fatalf("HandleAssets() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if assets.gotLimit != 10 || assets.gotOffset != 20 {
		t.Fatalf("paging = %d/%d, want 10/20", assets.gotLimit, assets.gotOffset)
	}
	if len(assets.gotFilters.RiskLevels) != 2 || assets.gotFilters.IsPublic == nil || !*assets.gotFilters.IsPublic {
		t.Fatalf("filters = %+v", assets.gotFilters)
	}
	if assets.gotSort.Field != asset.SortField("name") {
		t.Fatalf("sort = %+v", assets.gotSort)
	}
	body := decodeBody[map[string]any](t, rec)
	if list, ok := body["assets"].([]any); !ok || len(list) != 0 {
		t.Fatalf("assets = %#v, want empty list", body["assets"])
	}
}

func TestHandleAssetsRejectsBadQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
	}{
		{"bad boolean", "/api/assets?isPublic=maybe"},
		{"bad limit", "/api/assets?limit=ten"},
		{"limit too large", "/api/assets?limit=5000"},
		{"negative offset", "/api/assets?offset=-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assets := &fakeAssets{}
			h := &Handlers{Assets: assets}
			c, rec := newTestContext(http.MethodGet, tt.target, nil)
			if err := h.HandleAssets(c); err != nil {
				t.Fatalf("HandleAssets() error = %v", err)
			}
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if got := decodeBody[APIError](t, rec); got.Code != asset.CodeValidation {
				t.Fatalf("code = %q, want %q", got.Code, asset.CodeValidation)
			}
			if assets.gotLimit != 0 {
				t.Fatal("engine should not be called for invalid input")
			}
		})
	}
}

func TestHandleAssetActionStatusFollowsOutcome(t *testing.T) {
	t.Parallel()

	fake := &fakeActions{single: func(rawID string, action asset.Action) actions.Result {
		if rawID == "drive_1" {
			return actions.Result{ID: rawID, Action: action, Success: true}
		}
		return actions.Result{ID: rawID, Action: action, Error: "asset not found", ErrorKind: asset.CodeNotFound}
	}}
	h := &Handlers{Actions: fake}

	c, rec := newTestContext(http.MethodPost, "/api/assets/drive_1/actions/delete", nil)
	c.SetPathValues(echo.PathValues{{Name: "id", Value: "drive_1"}, {Name: "action", Value: "delete"}})
	if err := h.HandleAssetAction(c); err != nil {
		t.Fatalf("HandleAssetAction() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decodeBody[actions.Result](t, rec); !got.Success || got.Action != asset.ActionDelete {
		t.Fatalf("result = %+v", got)
	}

	c, rec = newTestContext(http.MethodPost, "/api/assets/drive_404/actions/delete", nil)
	c.SetPathValues(echo.PathValues{{Name: "id", Value: "drive_404"}, {Name: "action", Value: "delete"}})
	if err := h.HandleAssetAction(c); err != nil {
		t.Fatalf("HandleAssetAction() error = %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if got := decodeBody[actions.Result](t, rec); got.Success || got.ErrorKind != asset.CodeNotFound {
		t.Fatalf("result = %+v", got)
	}
}

func TestHandleBatchAction(t *testing.T) {
	t.Parallel()

	fake := &fakeActions{}
	h := &Handlers{Actions: fake}
	c, rec := newTestContext(http.MethodPost, "/api/actions/refresh", strings.NewReader(`{"ids":["drive_1","sender_2"]}`))
	c.SetPathValues(echo.PathValues{{Name: "action", Value: "refresh"}})

	if err := h.HandleBatchAction(c); err != nil {
		t.Fatalf("HandleBatchAction() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[actions.BatchResult](t, rec)
	if got.Succeeded != 2 || len(got.Items) != 2 || fake.batchIDs[1] != "sender_2" {
		t.Fatalf("batch = %+v", got)
	}
}

func TestHandleBatchActionRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		action   string
		body     string
		batchErr error
	}{
		{"unknown action", "archive", `{"ids":["drive_1"]}`, nil},
		{"malformed body", "delete", `{"ids":`, nil},
		{"empty ids", "delete", `{"ids":[]}`, asset.Invalid("ids must satisfy min")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fake := &fakeActions{batchErr: tt.batchErr}
			h := &Handlers{Actions: fake}
			c, rec := newTestContext(http.MethodPost, "/api/actions/"+tt.action, strings.NewReader(tt.body))
			c.SetPathValues(echo.PathValues{{Name: "action", Value: tt.action}})
			if err := h.HandleBatchAction(c); err != nil {
				t.Fatalf("HandleBatchAction() error = %v", err)
			}
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandleScanStartDecodesOptions(t *testing.T) {
	t.Parallel()

	scans := &fakeScans{snap: scan.Snapshot{Phase: scan.PhaseRunning}}
	h := &Handlers{Scans: scans}
	c, rec := newTestContext(http.MethodPost, "/api/scans/gmail/start", strings.NewReader(`{"mode":"recent","autoContinue":true,"pageSize":25}`))
	c.SetPathValues(echo.PathValues{{Name: "platform", Value: "gmail"}})

	if err := h.HandleScanStart(c); err != nil {
		t.Fatalf("HandleScanStart() error = %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if !scans.gotOpts.AutoContinue || scans.gotOpts.PageSize != 25 || scans.gotOpts.Mode != "recent" {
		t.Fatalf("options = %+v", scans.gotOpts)
	}
	if got := decodeBody[scan.Snapshot](t, rec); got.Platform != asset.PlatformGmail || got.Phase != scan.PhaseRunning {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestHandleScanConflictsAndUnknownPlatform(t *testing.T) {
	t.Parallel()

	scans := &fakeScans{startErr: scan.ErrScanRunning}
	h := &Handlers{Scans: scans}

	c, rec := newTestContext(http.MethodPost, "/api/scans/gmail/start", nil)
	c.SetPathValues(echo.PathValues{{Name: "platform", Value: "gmail"}})
	if err := h.HandleScanStart(c); err != nil {
		t.Fatalf("HandleScanStart() error = %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("start status = %d, want 409", rec.Code)
	}

	c, rec = newTestContext(http.MethodPost, "/api/scans/gmail/resume", nil)
	c.SetPathValues(echo.PathValues{{Name: "platform", Value: "gmail"}})
	if err := h.HandleScanResume(c); err != nil {
		t.Fatalf("HandleScanResume() error = %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("resume status = %d, want 409", rec.Code)
	}

	c, rec = newTestContext(http.MethodGet, "/api/scans/dropbox", nil)
	c.SetPathValues(echo.PathValues{{Name: "platform", Value: "dropbox"}})
	if err := h.HandleScanProgress(c); err != nil {
		t.Fatalf("HandleScanProgress() error = %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown platform status = %d, want 404", rec.Code)
	}
}

func TestHandleScanCancel(t *testing.T) {
	t.Parallel()

	scans := &fakeScans{}
	h := &Handlers{Scans: scans}
	c, rec := newTestContext(http.MethodPost, "/api/scans/google_drive/cancel", nil)
	c.SetPathValues(echo.PathValues{{Name: "platform", Value: "google_drive"}})
	if err := h.HandleScanCancel(c); err != nil {
		t.Fatalf("HandleScanCancel() error = %v", err)
	}
	if rec.Code != http.StatusOK || len(scans.cancelled) != 1 || scans.cancelled[0] != asset.PlatformGoogleDrive {
		t.Fatalf("status = %d, cancelled = %v", rec.Code, scans.cancelled)
	}
}

func TestHandleActivity(t *testing.T) {
	t.Parallel()

	log := &fakeActivity{}
	h := &Handlers{Activity: log}

	c, rec := newTestContext(http.MethodGet, "/api/activity", nil)
	if err := h.HandleActivity(c); err != nil {
		t.Fatalf("HandleActivity() error = %v", err)
	}
	if rec.Code != http.StatusOK || log.gotLimit != defaultActivityLimit {
		t.Fatalf("status = %d, limit = %d", rec.Code, log.gotLimit)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("body = %q, want empty list", rec.Body.String())
	}

	c, rec = newTestContext(http.MethodGet, "/api/activity?limit=0", nil)
	if err := h.HandleActivity(c); err != nil {
		t.Fatalf("HandleActivity() error = %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	c, rec = newTestContext(http.MethodDelete, "/api/activity", nil)
	if err := h.HandleActivityClear(c); err != nil {
		t.Fatalf("HandleActivityClear() error = %v", err)
	}
	if rec.Code != http.StatusNoContent || !log.cleared {
		t.Fatalf("status = %d, cleared = %v", rec.Code, log.cleared)
	}
}
