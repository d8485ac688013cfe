// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package httpconn_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"carewire.io/carewire/engine/connector"
	"carewire.io/carewire/engine/connector/httpconn"
	"carewire.io/carewire/engine/message"
)

func marshalConfig(t *testing.T, config interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(config)
	require.NoError(t, err)
	return data
}

func newDispatcher(t *testing.T, config httpconn.DispatcherConfig) *httpconn.Dispatcher {
	t.Helper()
	dispatcher, err := httpconn.NewDispatcher(zaptest.NewLogger(t), connector.DestinationParams{
		ChannelID:  "chan-1",
		Properties: marshalConfig(t, config),
	})
	require.NoError(t, err)
	return dispatcher
}

func TestDispatcherSent(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	var gotBody string
	var gotHeader http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotHeader = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ACK"))
	}))
	defer server.Close()

	dispatcher := newDispatcher(t, httpconn.DispatcherConfig{
		URL:         server.URL + "/ingest/${messageId}",
		ContentType: "application/hl7-v2",
		Headers:     map[string]string{"X-Facility": "west"},
	})
	defer ctx.Check(dispatcher.Close)

	resp, err := dispatcher.Send(ctx, &connector.Request{
		ChannelID: "chan-1",
		MessageID: 9,
		Content:   "MSH|^~\\&|",
	})
	require.NoError(t, err)
	require.Equal(t, message.StatusSent, resp.Status)
	require.Equal(t, "ACK", resp.Message)
	require.Equal(t, "200 OK", resp.StatusMessage)

	require.Equal(t, "MSH|^~\\&|", gotBody)
	require.Equal(t, "application/hl7-v2", gotHeader.Get("Content-Type"))
	require.Equal(t, "west", gotHeader.Get("X-Facility"))
}

func TestDispatcherRetryableStatus(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	for _, code := range []int{http.StatusInternalServerError, http.StatusTooManyRequests, http.StatusBadGateway} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		dispatcher := newDispatcher(t, httpconn.DispatcherConfig{URL: server.URL})
		_, err := dispatcher.Send(ctx, &connector.Request{MessageID: 1, Content: "x"})
		require.Error(t, err)
		require.True(t, connector.ErrTransport.Has(err), "status %d must be retryable", code)

		ctx.Check(dispatcher.Close)
		server.Close()
	}
}

func TestDispatcherPermanentStatus(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("bad segment"))
	}))
	defer server.Close()

	dispatcher := newDispatcher(t, httpconn.DispatcherConfig{URL: server.URL})
	defer ctx.Check(dispatcher.Close)

	resp, err := dispatcher.Send(ctx, &connector.Request{MessageID: 1, Content: "x"})
	require.NoError(t, err)
	require.Equal(t, message.StatusError, resp.Status)
	require.Equal(t, "bad segment", resp.Message)
	require.Contains(t, resp.StatusMessage, "422")
}

func TestDispatcherTimeout(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	dispatcher := newDispatcher(t, httpconn.DispatcherConfig{
		URL:     server.URL,
		Timeout: 50 * time.Millisecond,
	})
	defer ctx.Check(dispatcher.Close)

	_, err := dispatcher.Send(ctx, &connector.Request{MessageID: 1, Content: "x"})
	require.Error(t, err)
	require.True(t, connector.ErrTransport.Has(err))
}

type cannedTransport struct {
	lastURL string
}

func (rt *cannedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.lastURL = req.URL.String()
	recorder := httptest.NewRecorder()
	recorder.WriteHeader(http.StatusCreated)
	_, _ = recorder.WriteString("stored")
	return recorder.Result(), nil
}

func TestDispatcherPluggableTransport(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	rt := &cannedTransport{}
	dispatcher, err := httpconn.NewDispatcherWithTransport(zaptest.NewLogger(t), connector.DestinationParams{
		Properties: marshalConfig(t, httpconn.DispatcherConfig{
			URL: "http://upstream.invalid/fhir/${resource}",
		}),
	}, rt)
	require.NoError(t, err)
	defer ctx.Check(dispatcher.Close)

	resp, err := dispatcher.Send(ctx, &connector.Request{
		MessageID:    3,
		Content:      `{"resourceType":"Patient"}`,
		ConnectorMap: message.Map{"resource": "Patient"},
	})
	require.NoError(t, err)
	require.Equal(t, message.StatusSent, resp.Status)
	require.Equal(t, "stored", resp.Message)
	require.Equal(t, "http://upstream.invalid/fhir/Patient", rt.lastURL)
}

func TestDispatcherConfig(t *testing.T) {
	log := zaptest.NewLogger(t)

	_, err := httpconn.NewDispatcher(log, connector.DestinationParams{})
	require.Error(t, err)

	_, err = httpconn.NewDispatcher(log, connector.DestinationParams{
		Properties: json.RawMessage(`{"url": 7}`),
	})
	require.Error(t, err)
}
