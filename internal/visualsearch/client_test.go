package visualsearch

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alexeynavarkin/picsearch/internal/credential"
)

type fakeTokens struct {
	mu          sync.Mutex
	tokens      []string
	issued      int
	invalidated int
	err         error
}

func (f *fakeTokens) Token(ctx context.Context) (credential.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return credential.Credential{}, f.err
	}
	tok := f.tokens[min(f.issued, len(f.tokens)-1)]
	return credential.Credential{Token: tok, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeTokens) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	f.issued++
}

type indexServer struct {
	mu       sync.Mutex
	requests []*http.Request
	forms    []map[string]string
	handle   func(w http.ResponseWriter, r *http.Request, op string)
}

func newIndexServer(t *testing.T, handle func(w http.ResponseWriter, r *http.Request, op string)) (*httptest.Server, *indexServer) {
	is := &indexServer{handle: handle}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		is.mu.Lock()
		is.requests = append(is.requests, r)
		is.forms = append(is.forms, form)
		is.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		is.handle(w, r, strings.TrimPrefix(r.URL.Path, "/"))
	}))
	t.Cleanup(srv.Close)
	return srv, is
}

func newTestClient(srv *httptest.Server, tokens TokenSource) *Client {
	return NewClient(srv.Client(), tokens, Config{BaseURL: srv.URL + "/"}, nil, zap.NewNop())
}

func TestRegisterSendsFormEncodedImageAndBrief(t *testing.T) {
	srv, is := newIndexServer(t, func(w http.ResponseWriter, r *http.Request, op string) {
		assert.Equal(t, "add", op)
		assert.Equal(t, "tok-1", r.URL.Query().Get("access_token"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"log_id":1234567890123,"cont_sign":"2081429,3117524"}`))
	})
	client := newTestClient(srv, &fakeTokens{tokens: []string{"tok-1"}})

	reg, err := client.Register(context.Background(), []byte("jpeg-bytes"), `{"fileName":"a.jpg"}`)

	require.NoError(t, err)
	assert.Equal(t, "2081429,3117524", reg.ContentSign)
	assert.Equal(t, uint64(1234567890123), reg.LogID)
	require.Len(t, is.forms, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")), is.forms[0]["image"])
	assert.Equal(t, `{"fileName":"a.jpg"}`, is.forms[0]["brief"])
}

func TestRegisterBusinessErrorWithHTTP200(t *testing.T) {
	srv, _ := newIndexServer(t, func(w http.ResponseWriter, r *http.Request, op string) {
		_, _ = w.Write([]byte(`{"log_id":1,"error_code":216202,"error_msg":"image size error"}`))
	})
	client := newTestClient(srv, &fakeTokens{tokens: []string{"tok"}})

	_, err := client.Register(context.Background(), []byte("tiny"), "{}")

	var vsErr *Error
	require.ErrorAs(t, err, &vsErr)
	assert.Equal(t, KindRegistration, vsErr.Kind)
	assert.Equal(t, CodeImageSize, vsErr.Code)
	assert.Equal(t, "image size error", vsErr.Message)
	assert.False(t, vsErr.Transport)
	assert.True(t, IsImageRejected(err))
}

func TestRegisterWithoutSignatureIsFailure(t *testing.T) {
	srv, _ := newIndexServer(t, func(w http.ResponseWriter, r *http.Request, op string) {
		_, _ = w.Write([]byte(`{"log_id":1,"error_code":0}`))
	})
	client := newTestClient(srv, &fakeTokens{tokens: []string{"tok"}})

	_, err := client.Register(context.Background(), []byte("img"), "{}")

	var vsErr *Error
	require.ErrorAs(t, err, &vsErr)
	assert.Equal(t, CodeNoSignature, vsErr.Code)
	assert.False(t, vsErr.Transport)
}

func TestRegisterSameBytesTwiceNeverFailsOnErrorCodeZero(t *testing.T) {
	srv, _ := newIndexServer(t, func(w http.ResponseWriter, r *http.Request, op string) {
		_, _ = w.Write([]byte(`{"error_code":0,"cont_sign":"1,2"}`))
	})
	client := newTestClient(srv, &fakeTokens{tokens: []string{"tok"}})

	for i := 0; i < 2; i++ {
		reg, err := client.Register(context.Background(), []byte("same"), "{}")
		require.NoError(t, err)
		assert.NotEmpty(t, reg.ContentSign)
	}
}

func TestTokenRejectionInvalidatesAndRetriesOnce(t *testing.T) {
	srv, is := newIndexServer(t, func(w http.ResponseWriter, r *http.Request, op string) {
		if r.URL.Query().Get("access_token") == "stale" {
			_, _ = w.Write([]byte(`{"error_code":111,"error_msg":"Access token expired"}`))
			return
		}
		_, _ = w.Write([]byte(`{"cont_sign":"9,9"}`))
	})
	tokens := &fakeTokens{tokens: []string{"stale", "fresh"}}
	client := newTestClient(srv, tokens)

	reg, err := client.Register(context.Background(), []byte("img"), "{}")

	require.NoError(t, err)
	assert.Equal(t, "9,9", reg.ContentSign)
	assert.Equal(t, 1, tokens.invalidated)
	assert.Len(t, is.requests, 2)
}

func TestTokenRejectionRetriesOnlyOnce(t *testing.T) {
	srv, is := newIndexServer(t, func(w http.ResponseWriter, r *http.Request, op string) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error_code":110,"error_msg":"Access token invalid or no longer valid"}`))
	})
	tokens := &fakeTokens{tokens: []string{"a", "b", "c"}}
	client := newTestClient(srv, tokens)

	_, err := client.Search(context.Background(), []byte("img"))

	var vsErr *Error
	require.ErrorAs(t, err, &vsErr)
	assert.Equal(t, KindSearch, vsErr.Kind)
	assert.Equal(t, CodeTokenInvalid, vsErr.Code)
	assert.Equal(t, 1, tokens.invalidated)
	assert.Len(t, is.requests, 2)
}

func TestCredentialFailureSurfacesCredentialError(t *testing.T) {
	srv, is := newIndexServer(t, func(w http.ResponseWriter, r *http.Request, op string) {})
	credErr := &credential.Error{Status: 401, Code: "invalid_client", Message: "unknown client id"}
	client := newTestClient(srv, &fakeTokens{err: credErr})

	_, err := client.Register(context.Background(), []byte("img"), "{}")

	var got *credential.Error
	require.ErrorAs(t, err, &got)
	assert.Equal(t, "invalid_client", got.Code)
	assert.Empty(t, is.requests)
}

func TestSearchPreservesRemoteOrder(t *testing.T) {
	srv, is := newIndexServer(t, func(w http.ResponseWriter, r *http.Request, op string) {
		assert.Equal(t, "search", op)
		_, _ = w.Write([]byte(`{"log_id":7,"has_more":true,"result_num":3,"result":[
			{"score":0.61,"brief":"{\"k\":1}","cont_sign":"1,1"},
			{"score":0.98,"brief":"","cont_sign":"2,2"},
			{"score":0.40,"brief":"","cont_sign":"3,3"}]}`))
	})
	client := newTestClient(srv, &fakeTokens{tokens: []string{"tok"}})

	matches, err := client.Search(context.Background(), []byte("query"))
	require.NoError(t, err)

	assert.True(t, matches.HasMore())
	assert.Equal(t, 3, matches.Remaining())
	var signs []string
	var ranks []int
	for m := range matches.All() {
		signs = append(signs, m.ContentSign)
		ranks = append(ranks, m.Rank)
	}
	assert.Equal(t, []string{"1,1", "2,2", "3,3"}, signs)
	assert.Equal(t, []int{1, 2, 3}, ranks)
	assert.Equal(t, 0, matches.Remaining())

	_, ok := matches.Next()
	assert.False(t, ok, "cursor must not restart")
	_, hasImage := is.forms[0]["image"]
	assert.True(t, hasImage)
	_, hasBrief := is.forms[0]["brief"]
	assert.False(t, hasBrief)
}

func TestSearchNoMatchesIsEmptyNotError(t *testing.T) {
	srv, _ := newIndexServer(t, func(w http.ResponseWriter, r *http.Request, op string) {
		_, _ = w.Write([]byte(`{"log_id":8,"has_more":false,"result_num":0,"result":[]}`))
	})
	client := newTestClient(srv, &fakeTokens{tokens: []string{"tok"}})

	matches, err := client.Search(context.Background(), []byte("never registered"))

	require.NoError(t, err)
	require.NotNil(t, matches)
	assert.Equal(t, 0, matches.Remaining())
}

func TestSearchMalformedResponseIsTransportError(t *testing.T) {
	srv, _ := newIndexServer(t, func(w http.ResponseWriter, r *http.Request, op string) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream unavailable`))
	})
	client := newTestClient(srv, &fakeTokens{tokens: []string{"tok"}})

	_, err := client.Search(context.Background(), []byte("q"))

	var vsErr *Error
	require.ErrorAs(t, err, &vsErr)
	assert.True(t, vsErr.Transport)
	assert.Equal(t, http.StatusBadGateway, vsErr.Status)
	assert.Equal(t, KindSearch, vsErr.Kind)
}

func TestTransportErrorDoesNotLeakToken(t *testing.T) {
	srv, _ := newIndexServer(t, func(w http.ResponseWriter, r *http.Request, op string) {})
	base := srv.URL
	srv.Close()
	client := NewClient(nil, &fakeTokens{tokens: []string{"secret-token"}}, Config{BaseURL: base}, nil, zap.NewNop())

	_, err := client.Register(context.Background(), []byte("img"), "{}")

	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
	var vsErr *Error
	require.ErrorAs(t, err, &vsErr)
	assert.True(t, vsErr.Transport)
}

func TestCancelledContextIsTransportError(t *testing.T) {
	srv, _ := newIndexServer(t, func(w http.ResponseWriter, r *http.Request, op string) {
		_, _ = w.Write([]byte(`{"cont_sign":"1,1"}`))
	})
	client := NewClient(srv.Client(), &fakeTokens{tokens: []string{"tok"}}, Config{BaseURL: srv.URL, QPS: 1}, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Register(ctx, []byte("img"), "{}")

	var vsErr *Error
	require.ErrorAs(t, err, &vsErr)
	assert.True(t, vsErr.Transport)
	assert.True(t, errors.Is(err, context.Canceled))
}
