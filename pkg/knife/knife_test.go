package knife

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/hamba/logger/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/sickit/bag-operator/pkg/shell"
)

type fakeRunner struct {
	cmds []shell.Command
	errs []error
}

func (r *fakeRunner) Run(_ context.Context, cmd shell.Command) ([]byte, error) {
	r.cmds = append(r.cmds, cmd)
	if len(r.errs) == 0 {
		return nil, nil
	}
	err := r.errs[0]
	r.errs = r.errs[1:]
	return nil, err
}

func newTestKnife(r shell.Runner, opts ...Option) *Knife {
	log := logger.New(io.Discard, logger.LogfmtFormat(), logger.Debug)
	return New(log, append([]Option{WithRunner(r)}, opts...)...)
}

func TestKnife_Upload(t *testing.T) {
	r := &fakeRunner{}
	k := newTestKnife(r, WithBinary("/opt/chef/bin/knife"))

	err := k.Upload(context.Background(), "sshkeys", "/tmp/knife-generate1.json", "s3cr3t")
	require.NoError(t, err)

	require.Len(t, r.cmds, 1)
	assert.Equal(t, "/opt/chef/bin/knife", r.cmds[0].Name)
	assert.Equal(t,
		[]string{"data", "bag", "from", "file", "sshkeys", "/tmp/knife-generate1.json", "--secret", "s3cr3t"},
		r.cmds[0].Args,
	)
}

func TestKnife_UploadFailureIsNotRetriedByDefault(t *testing.T) {
	r := &fakeRunner{errs: []error{&shell.ExitError{Name: "knife", Code: 100}}}
	k := newTestKnife(r)

	err := k.Upload(context.Background(), "sshkeys", "/tmp/f.json", "s")

	var exitErr *shell.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 100, exitErr.Code)
	assert.Len(t, r.cmds, 1)
}

func TestKnife_UploadRetries(t *testing.T) {
	r := &fakeRunner{errs: []error{errors.New("boom"), errors.New("boom")}}
	k := newTestKnife(r, WithRetries(2))
	k.delay = time.Millisecond

	err := k.Upload(context.Background(), "sshkeys", "/tmp/f.json", "s")

	require.NoError(t, err)
	assert.Len(t, r.cmds, 3)
}

func TestKnife_UploadDryRun(t *testing.T) {
	r := &fakeRunner{}
	k := newTestKnife(r)
	k.WithDryRun(true)

	err := k.Upload(context.Background(), "sshkeys", "/tmp/f.json", "s")

	require.NoError(t, err)
	assert.Empty(t, r.cmds)
}
