package generator

import (
	"context"

	"github.com/appforge/forge/pkg/retry"
)

type fakeClient struct{}

func FakeClient() Client {
	return &fakeClient{}
}

func (c *fakeClient) Generate(ctx context.Context, request *Request) (*Bundle, error) {
	return nil, retry.Abort(ErrGenerationNotEnabled)
}
