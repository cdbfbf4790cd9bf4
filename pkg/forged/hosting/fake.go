package hosting

import (
	"context"

	"github.com/appforge/forge/pkg/retry"
)

type fakeClient struct{}

func FakeClient() Client {
	return &fakeClient{}
}

func (c *fakeClient) EnsureRepository(ctx context.Context, name, description string) (bool, error) {
	return false, retry.Abort(ErrHostingNotEnabled)
}

func (c *fakeClient) Commit(ctx context.Context, name, message string, files []File, replace bool) (string, error) {
	return "", retry.Abort(ErrHostingNotEnabled)
}

func (c *fakeClient) EnablePages(ctx context.Context, name string) (string, error) {
	return "", retry.Abort(ErrHostingNotEnabled)
}

func (c *fakeClient) Documentation(ctx context.Context, name string) (string, error) {
	return "", retry.Abort(ErrHostingNotEnabled)
}

func (c *fakeClient) RepositoryURL(name string) string {
	return ""
}

func (c *fakeClient) PagesURL(name string) string {
	return ""
}
