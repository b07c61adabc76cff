package apierr

import (
	"testing"

	"github.com/valyala/fasthttp"
)

func TestKind_HTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindMissingCredentials:  fasthttp.StatusUnauthorized,
		KindInvalidCredentials:  fasthttp.StatusUnauthorized,
		KindKeyExpired:          fasthttp.StatusUnauthorized,
		KindRateLimitExceeded:   fasthttp.StatusTooManyRequests,
		KindNoUpstreamAvailable: fasthttp.StatusServiceUnavailable,
		KindUpstreamAuthExpired: fasthttp.StatusBadGateway,
		KindUpstreamTransport:   fasthttp.StatusBadGateway,
		KindBadRequest:          fasthttp.StatusBadRequest,
		KindInternal:            fasthttp.StatusInternalServerError,
	}
	for k, want := range cases {
		if got := k.HTTPStatus(); got != want {
			t.Errorf("%s: got %d, want %d", k, got, want)
		}
	}
}

func TestWriteKindError_UpstreamStatusPassesThroughVerbatim(t *testing.T) {
	var ctx fasthttp.RequestCtx
	e := UpstreamStatus(418, "upstream said no")
	WriteKindError(&ctx, e)
	if ctx.Response.StatusCode() != 418 {
		t.Fatalf("got status %d, want 418", ctx.Response.StatusCode())
	}
}

func TestError_UnwrapReturnsCause(t *testing.T) {
	cause := New(KindInternal, "wrapped", nil)
	e := New(KindUpstreamTransport, "dial failed", cause)
	if e.Unwrap() != cause {
		t.Fatal("Unwrap did not return the wrapped cause")
	}
}
