package tika

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"synapse-go/internal/config"
	"synapse-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoPages = `<html xmlns="http://www.w3.org/1999/xhtml"><head><title>t</title></head><body>
<div class="page"><p>Refund policy</p>
<p>Refunds are issued within 30 days.</p></div>
<div class="page"><p></p></div>
<div class="page"><p>Shipping takes 5 days.</p></div>
</body></html>`

func TestParseXHTML_SplitsPages(t *testing.T) {
	pages, err := ParseXHTML(strings.NewReader(twoPages))
	require.NoError(t, err)
	require.Len(t, pages, 3)

	assert.Equal(t, 0, pages[0].Number)
	assert.Equal(t, "Refund policy\n\nRefunds are issued within 30 days.", pages[0].Text)
	assert.Equal(t, "", pages[1].Text)
	assert.Equal(t, 2, pages[2].Number)
	assert.Equal(t, "Shipping takes 5 days.", pages[2].Text)
}

func TestParseXHTML_NoPageMarkers(t *testing.T) {
	pages, err := ParseXHTML(strings.NewReader(`<html><body><p>one</p><p>two</p></body></html>`))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "one\ntwo", pages[0].Text)
}

func newServer(t *testing.T, status int, body string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tika", r.URL.Path)
		assert.Equal(t, "text/html", r.Header.Get("Accept"))
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient(config.TikaConfig{ServerURL: srv.URL + "/", TimeoutSeconds: 5})
}

func TestExtractPages(t *testing.T) {
	c := newServer(t, http.StatusOK, twoPages)
	pages, err := c.ExtractPages(context.Background(), strings.NewReader("%PDF-1.7"), "policy.pdf")
	require.NoError(t, err)
	assert.Len(t, pages, 3)
}

func TestExtractPages_Unreadable(t *testing.T) {
	t.Run("422 from tika", func(t *testing.T) {
		c := newServer(t, http.StatusUnprocessableEntity, "encrypted")
		_, err := c.ExtractPages(context.Background(), strings.NewReader("x"), "locked.pdf")
		assert.True(t, errors.Is(err, model.ErrUnreadableDocument))
	})
	t.Run("no text", func(t *testing.T) {
		c := newServer(t, http.StatusOK, `<html><body><div class="page"> </div></body></html>`)
		_, err := c.ExtractPages(context.Background(), strings.NewReader("x"), "scan.pdf")
		assert.True(t, errors.Is(err, model.ErrUnreadableDocument))
	})
	t.Run("server error is not unreadable", func(t *testing.T) {
		c := newServer(t, http.StatusInternalServerError, "boom")
		_, err := c.ExtractPages(context.Background(), strings.NewReader("x"), "a.pdf")
		require.Error(t, err)
		assert.False(t, errors.Is(err, model.ErrUnreadableDocument))
	})
}
