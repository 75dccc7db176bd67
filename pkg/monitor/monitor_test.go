package monitor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/elektrummon/elektrummon/pkg/types"
	"github.com/elektrummon/elektrummon/pkg/utility"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	testCreds = types.Credentials{Username: "user@example.com", Password: "hunter2"}
	riga      = func() *time.Location {
		loc, err := time.LoadLocation("Europe/Riga")
		if err != nil {
			panic(fmt.Errorf("failed to load riga location: %w", err))
		}
		return loc
	}()
)

func TestTargetDay(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "morning",
			now:  time.Date(2024, time.March, 8, 10, 0, 0, 0, riga),
			want: time.Date(2024, time.March, 7, 0, 0, 0, 0, riga),
		},
		{
			name: "leap day",
			now:  time.Date(2024, time.March, 1, 0, 0, 1, 0, riga),
			want: time.Date(2024, time.February, 29, 0, 0, 0, 0, riga),
		},
		{
			name: "new year",
			now:  time.Date(2025, time.January, 1, 10, 0, 0, 0, riga),
			want: time.Date(2024, time.December, 31, 0, 0, 0, 0, riga),
		},
		{
			name: "day after dst change",
			now:  time.Date(2024, time.April, 1, 0, 30, 0, 0, riga),
			want: time.Date(2024, time.March, 31, 0, 0, 0, 0, riga),
		},
		{
			name: "utc instant is converted",
			// 22:30 UTC on the 7th is already the 8th in Riga
			now:  time.Date(2024, time.March, 7, 22, 30, 0, 0, time.UTC),
			want: time.Date(2024, time.March, 7, 0, 0, 0, 0, riga),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TargetDay(tt.now, riga)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestMerge(t *testing.T) {
	prev := types.MonitorState{
		CurrentTotal:     3,
		CurrentDate:      "2024-03-06",
		CurrentDayHourly: types.HourlyReading{{Hour: "01:00", KWH: 3}},
		History: types.DailyHistory{
			"2024-03-05": {{Hour: "01:00", KWH: 1}, {Hour: "02:00", KWH: 1}},
			"2024-03-06": {{Hour: "01:00", KWH: 3}},
		},
	}
	before := prev.Clone()

	t.Run("new day", func(t *testing.T) {
		reading := types.HourlyReading{{Hour: "01:00", KWH: 0.5}, {Hour: "02:00", KWH: 1.5}}
		next := Merge(prev, "2024-03-07", reading)

		assert.InDelta(t, 2.0, next.CurrentTotal, 1e-9)
		assert.Equal(t, "2024-03-07", next.CurrentDate)
		assert.Equal(t, reading, next.CurrentDayHourly)
		assert.Len(t, next.History, 3)
		assert.Equal(t, reading, next.History["2024-03-07"])
		assert.Equal(t, prev.History["2024-03-05"], next.History["2024-03-05"])
		assert.Equal(t, prev.History["2024-03-06"], next.History["2024-03-06"])
		assert.Equal(t, before, prev, "input state must not change")
	})

	t.Run("same day is replaced wholesale", func(t *testing.T) {
		reading := types.HourlyReading{{Hour: "05:00", KWH: 4}}
		next := Merge(prev, "2024-03-05", reading)

		assert.Equal(t, reading, next.History["2024-03-05"])
		assert.Len(t, next.History, 2)
		assert.Equal(t, 4.0, next.CurrentTotal)
		assert.Equal(t, before, prev, "input state must not change")
	})

	t.Run("empty state", func(t *testing.T) {
		next := Merge(types.MonitorState{}, "2024-03-07", types.HourlyReading{{Hour: "01:00", KWH: 1}})
		assert.Len(t, next.History, 1)
		assert.Equal(t, 1.0, next.CurrentTotal)
	})

	t.Run("reading is copied", func(t *testing.T) {
		reading := types.HourlyReading{{Hour: "01:00", KWH: 1}}
		next := Merge(types.MonitorState{}, "2024-03-07", reading)
		reading[0].KWH = 99
		assert.Equal(t, 1.0, next.History["2024-03-07"][0].KWH)
		assert.Equal(t, 1.0, next.CurrentDayHourly[0].KWH)
	})
}

func newTestMonitor(p utility.Provider, now time.Time) *Monitor {
	return New("test", testCreds, p, WithLocation(riga), WithClock(func() time.Time { return now }))
}

func TestMonitorRefresh(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.March, 8, 10, 0, 0, 0, riga)
	day := time.Date(2024, time.March, 7, 0, 0, 0, 0, riga)
	session := utility.NewSession(http.DefaultClient)
	reading := types.HourlyReading{{Hour: "01:00", KWH: 0.5}, {Hour: "02:00", KWH: 1.5}}

	t.Run("success", func(t *testing.T) {
		p := &mockProvider{}
		p.On("Authenticate", mock.Anything, testCreds).Return(session, nil).Once()
		p.On("FetchConsumption", mock.Anything, session, day).Return(reading, nil).Once()

		m := newTestMonitor(p, now)
		assert.Equal(t, PhaseIdle, m.Phase())

		state, err := m.Refresh(ctx)
		require.NoError(t, err)
		p.AssertExpectations(t)

		assert.InDelta(t, 2.0, state.CurrentTotal, 1e-9)
		assert.Equal(t, "2024-03-07", state.CurrentDate)
		assert.Equal(t, reading, state.CurrentDayHourly)
		assert.Equal(t, types.DailyHistory{"2024-03-07": reading}, state.History)
		assert.True(t, now.Equal(state.UpdatedAt))

		assert.Equal(t, PhaseUpdated, m.Phase())
		assert.NoError(t, m.LastError())
		assert.Equal(t, state, m.State())
		assert.True(t, now.Equal(m.LastAttempt()))
	})

	t.Run("authentication failure leaves state unchanged", func(t *testing.T) {
		p := &mockProvider{}
		p.On("Authenticate", mock.Anything, testCreds).Return(session, nil).Once()
		p.On("FetchConsumption", mock.Anything, session, day).Return(reading, nil).Once()
		m := newTestMonitor(p, now)
		_, err := m.Refresh(ctx)
		require.NoError(t, err)
		before := m.State()

		authErr := &utility.ProviderError{Kind: utility.ErrAuthentication, Op: "exchange credentials", StatusCode: 401}
		p.On("Authenticate", mock.Anything, testCreds).Return(nil, authErr).Once()

		state, err := m.Refresh(ctx)
		require.ErrorIs(t, err, utility.ErrAuthentication)
		assert.Equal(t, types.MonitorState{}, state)
		assert.Equal(t, before, m.State())
		assert.Equal(t, PhaseIdle, m.Phase())
		assert.ErrorIs(t, m.LastError(), utility.ErrAuthentication)
		p.AssertNumberOfCalls(t, "FetchConsumption", 1)
	})

	t.Run("fetch failure leaves state unchanged", func(t *testing.T) {
		p := &mockProvider{}
		p.On("Authenticate", mock.Anything, testCreds).Return(session, nil)
		p.On("FetchConsumption", mock.Anything, session, day).Return(reading, nil).Once()
		m := newTestMonitor(p, now)
		_, err := m.Refresh(ctx)
		require.NoError(t, err)
		before := m.State()

		p.On("FetchConsumption", mock.Anything, session, day).Return(nil, &utility.ProviderError{Kind: utility.ErrFetch, StatusCode: 500}).Once()
		_, err = m.Refresh(ctx)
		require.ErrorIs(t, err, utility.ErrFetch)
		assert.Equal(t, before, m.State())
		assert.Equal(t, PhaseIdle, m.Phase())
	})

	t.Run("no data is not fatal", func(t *testing.T) {
		p := &mockProvider{}
		p.On("Authenticate", mock.Anything, testCreds).Return(session, nil)
		p.On("FetchConsumption", mock.Anything, session, day).Return(nil, &utility.ProviderError{Kind: utility.ErrNoData}).Once()
		m := newTestMonitor(p, now)

		_, err := m.Refresh(ctx)
		require.ErrorIs(t, err, utility.ErrNoData)
		assert.Equal(t, types.MonitorState{}, m.State())
		assert.False(t, m.State().HasData())

		// the next cycle starts from scratch
		p.On("FetchConsumption", mock.Anything, session, day).Return(reading, nil).Once()
		state, err := m.Refresh(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2.0, state.CurrentTotal)
	})

	t.Run("history accumulates across days", func(t *testing.T) {
		p := &mockProvider{}
		p.On("Authenticate", mock.Anything, testCreds).Return(session, nil)
		clock := now
		m := New("test", testCreds, p, WithLocation(riga), WithClock(func() time.Time { return clock }))

		for i := 0; i < 3; i++ {
			d := TargetDay(clock, riga)
			p.On("FetchConsumption", mock.Anything, session, d).Return(types.HourlyReading{{Hour: "01:00", KWH: float64(i + 1)}}, nil).Once()
			_, err := m.Refresh(ctx)
			require.NoError(t, err)
			clock = clock.AddDate(0, 0, 1)
		}

		state := m.State()
		assert.Equal(t, []string{"2024-03-07", "2024-03-08", "2024-03-09"}, state.History.Dates())
		assert.Equal(t, 3.0, state.CurrentTotal)
		assert.Equal(t, 1.0, state.History["2024-03-07"].Total())
	})

	t.Run("state is a copy", func(t *testing.T) {
		p := &mockProvider{}
		p.On("Authenticate", mock.Anything, testCreds).Return(session, nil)
		p.On("FetchConsumption", mock.Anything, session, day).Return(reading.Clone(), nil)
		m := newTestMonitor(p, now)
		returned, err := m.Refresh(ctx)
		require.NoError(t, err)

		returned.History["2024-03-07"][0].KWH = 100
		returned.CurrentDayHourly[1].KWH = 100
		s := m.State()
		s.History["bogus"] = nil

		assert.Equal(t, 2.0, m.State().CurrentTotal)
		assert.Equal(t, reading, m.State().History["2024-03-07"])
		assert.Len(t, m.State().History, 1)
	})

	t.Run("concurrent refresh is rejected", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		p := &mockProvider{}
		p.On("Authenticate", mock.Anything, testCreds).Run(func(mock.Arguments) {
			close(started)
			<-release
		}).Return(session, nil).Once()
		p.On("FetchConsumption", mock.Anything, session, day).Return(reading, nil).Once()
		m := newTestMonitor(p, now)

		done := make(chan error, 1)
		go func() {
			_, err := m.Refresh(ctx)
			done <- err
		}()
		<-started
		assert.Equal(t, PhaseAuthenticating, m.Phase())

		_, err := m.Refresh(ctx)
		assert.ErrorIs(t, err, ErrRefreshInProgress)

		close(release)
		require.NoError(t, <-done)
		assert.Equal(t, PhaseUpdated, m.Phase())
		p.AssertExpectations(t)
	})
}

// TestMonitorEndToEnd runs a refresh against a fake portal.
func TestMonitorEndToEnd(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.March, 8, 10, 0, 0, 0, riga)

	var loginStatus int
	var gotAuth, gotFromDate string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(loginStatus)
		_, _ = w.Write([]byte(`<html>...data-token="AAA"...data-token="BBB"...</html>`))
	})
	mux.HandleFunc("POST /auth", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if gotAuth != "Bearer BBB" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
	})
	mux.HandleFunc("GET /data", func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("session"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		gotFromDate = r.URL.Query().Get("fromDate")
		_, _ = w.Write([]byte(`{"data":{"A+":[{"date":"01:00","id":1,"value":0.5},{"date":"02:00","id":2,"value":1.5}]}}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	provider := utility.New(ts.URL+"/login", ts.URL+"/auth", ts.URL+"/data")
	m := New("e2e", testCreds, provider, WithLocation(riga), WithClock(func() time.Time { return now }))

	t.Run("login page 500", func(t *testing.T) {
		loginStatus = http.StatusInternalServerError
		_, err := m.Refresh(ctx)
		require.ErrorIs(t, err, utility.ErrTokenRetrieval)
		assert.Equal(t, types.MonitorState{}, m.State())
		assert.Empty(t, gotAuth)
	})

	t.Run("success", func(t *testing.T) {
		loginStatus = http.StatusOK
		state, err := m.Refresh(ctx)
		require.NoError(t, err)

		assert.Equal(t, "Bearer BBB", gotAuth)
		assert.Equal(t, "2024-3-7", gotFromDate)
		assert.Equal(t, map[string]float64{"01:00": 0.5, "02:00": 1.5}, state.CurrentDayHourly.Map())
		assert.InDelta(t, 2.0, state.CurrentTotal, 1e-9)
		assert.Equal(t, []string{"2024-03-07"}, state.History.Dates())
	})

	t.Run("login page 500 after success", func(t *testing.T) {
		before := m.State()
		loginStatus = http.StatusInternalServerError
		_, err := m.Refresh(ctx)
		require.ErrorIs(t, err, utility.ErrTokenRetrieval)
		assert.Equal(t, before, m.State())
	})
}
