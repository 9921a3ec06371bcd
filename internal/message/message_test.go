package message

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/notify"
	"github.com/ignite/engagement-tracker/internal/repository/memory"
	"github.com/ignite/engagement-tracker/internal/service/session"
	"github.com/ignite/engagement-tracker/internal/syncer"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		body string
		want Message
	}{
		{`{"type":"CREATE_TRACKING_SESSION","emailDetails":{"subject":"hi","recipients":["a@example.com"]}}`,
			CreateTrackingSession{EmailDetails: EmailDetails{Subject: "hi", Recipients: []string{"a@example.com"}}}},
		{`{"type":"CREATE_TRACKING","emailDetails":{"subject":"alias"}}`,
			CreateTrackingSession{EmailDetails: EmailDetails{Subject: "alias"}}},
		{`{"type":"RECORD_PIXEL_LOAD","trackingId":"t1","data":{"ip":"203.0.113.5","userAgent":"ua"}}`,
			RecordPixelLoad{TrackingID: "t1", Data: domain.ClientInfo{IP: "203.0.113.5", UserAgent: "ua"}}},
		{`{"type":"RECORD_LINK_CLICK","trackingId":"t1","linkId":"link_0","url":"https://example.com","data":{}}`,
			RecordLinkClick{TrackingID: "t1", LinkID: "link_0", URL: "https://example.com"}},
		{`{"type":"GET_TRACKING_DATA"}`, GetTrackingData{}},
		{`{"type":"SYNC_NOW"}`, SyncNow{}},
		{`{"type":"SET_TRACKING_ENABLED","enabled":true}`, SetTrackingEnabled{Enabled: true}},
		{`{"type":"CLEAR_TRACKING_DATA"}`, ClearTrackingData{}},
	}
	for _, tc := range cases {
		got, err := Decode([]byte(tc.body))
		require.NoError(t, err, tc.body)
		assert.Equal(t, tc.want, got, tc.body)
	}

	_, err := Decode([]byte(`{"type":"LAUNCH_ROCKETS"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode([]byte(`{"type":"RECORD_PIXEL_LOAD","trackingId":7}`))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnknownType))
}

type fakeSyncer struct {
	res *syncer.Result
	err error
}

func (f fakeSyncer) SyncNow(context.Context) (*syncer.Result, error) { return f.res, f.err }

func newDispatcher(t *testing.T, sync Syncer) (*Dispatcher, *session.Service, *notify.Toggle) {
	t.Helper()
	toggle := notify.NewToggle(notify.Multi{}, true)
	svc := session.NewService(memory.NewStore(nil), session.WithNotifier(toggle))
	return NewDispatcher(svc, "https://track.example.com/", sync, toggle), svc, toggle
}

func TestDispatch_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	d, svc, _ := newDispatcher(t, nil)

	resp := d.Dispatch(ctx, CreateTrackingSession{EmailDetails: EmailDetails{
		Subject:    "Launch",
		Recipients: []string{"ana@example.com"},
		Links:      []string{"https://example.com/a"},
	}})
	require.True(t, resp.Success)
	id := resp.TrackingID
	require.NotEmpty(t, id)
	assert.Equal(t, "https://track.example.com/pixel/"+id, resp.PixelURL)
	assert.Equal(t, []string{"https://track.example.com/link/" + id + "/link_0?url=https%3A%2F%2Fexample.com%2Fa"}, resp.TrackedLinks)

	assert.True(t, d.Dispatch(ctx, RecordPixelLoad{TrackingID: id, Data: domain.ClientInfo{IP: "203.0.113.5"}}).Success)
	assert.True(t, d.Dispatch(ctx, RecordLinkClick{TrackingID: id, LinkID: "link_0", URL: "https://example.com/a"}).Success)
	assert.False(t, d.Dispatch(ctx, RecordPixelLoad{TrackingID: "nope"}).Success)

	resp = d.Dispatch(ctx, GetTrackingData{TrackingID: id})
	require.True(t, resp.Success)
	s := resp.Data.(*domain.TrackingSession)
	assert.Equal(t, domain.StatusClicked, s.Status)
	assert.Len(t, s.PixelLoads, 1)

	resp = d.Dispatch(ctx, GetTrackingData{})
	require.True(t, resp.Success)
	assert.Len(t, resp.Data.(map[string]*domain.TrackingSession), 1)

	resp = d.Dispatch(ctx, GetTrackingData{TrackingID: "unknown"})
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Data)

	assert.True(t, d.Dispatch(ctx, ClearTrackingData{}).Success)
	all, err := svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDispatch_CreateKeepsMailtoLinks(t *testing.T) {
	d, _, _ := newDispatcher(t, nil)

	resp := d.Dispatch(context.Background(), CreateTrackingSession{EmailDetails: EmailDetails{
		Subject: "Contact",
		Links:   []string{"mailto:bob@example.com", "https://example.com"},
	}})
	require.True(t, resp.Success)
	assert.Equal(t, []string{
		"mailto:bob@example.com",
		"https://track.example.com/link/" + resp.TrackingID + "/link_1?url=https%3A%2F%2Fexample.com",
	}, resp.TrackedLinks)
}

func TestDispatch_Toggle(t *testing.T) {
	d, _, toggle := newDispatcher(t, nil)
	resp := d.Dispatch(context.Background(), SetTrackingEnabled{Enabled: false})
	assert.True(t, resp.Success)
	assert.False(t, toggle.Enabled())
}

func TestDispatch_SyncNow(t *testing.T) {
	ctx := context.Background()

	d, _, _ := newDispatcher(t, nil)
	resp := d.Dispatch(ctx, SyncNow{})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "not configured")

	d, _, _ = newDispatcher(t, fakeSyncer{err: syncer.ErrRoundTripFailed})
	resp = d.Dispatch(ctx, SyncNow{})
	assert.False(t, resp.Success)
	assert.Equal(t, syncer.ErrRoundTripFailed.Error(), resp.Error)

	d, _, _ = newDispatcher(t, fakeSyncer{res: &syncer.Result{Sent: 3}})
	resp = d.Dispatch(ctx, SyncNow{})
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.Data.(*syncer.Result).Sent)
}

func TestHandler(t *testing.T) {
	d, _, _ := newDispatcher(t, nil)
	routes := NewHandler(d).Routes()

	post := func(body string) (int, map[string]any) {
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(body)))
		var out map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return rec.Code, out
	}

	code, out := post(`{"type":"CREATE_TRACKING_SESSION","emailDetails":{"subject":"hi","recipients":["a@example.com"]}}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["success"])
	id, _ := out["trackingId"].(string)
	require.NotEmpty(t, id)

	code, out = post(`{"type":"GET_TRACKING_DATA","trackingId":"` + id + `"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "sent", out["data"].(map[string]any)["status"])

	code, out = post(`{"type":"NOT_A_THING"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "unknown message type", out["error"])

	code, _ = post(`{`)
	assert.Equal(t, http.StatusBadRequest, code)
}
