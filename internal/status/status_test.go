package status

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEveryCodeHasMessage(t *testing.T) {
	codes := Codes()
	if len(codes) != len(messages) {
		t.Fatalf("Codes() returned %d codes, want %d", len(codes), len(messages))
	}
	for _, c := range codes {
		if c.Message() == "" {
			t.Errorf("code %d has empty message", int(c))
		}
	}
}

func TestCodeValuesAreStable(t *testing.T) {
	assert.Equal(t, 0, int(OK))
	assert.Equal(t, 5, int(NoNewData))
	assert.Equal(t, -3, int(MissingParam))
	assert.Equal(t, -12, int(FileExists))
	assert.Equal(t, -26, int(ServerError))
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"plain error", errors.New("boom"), ServerError},
		{"coded", New(FileExists), FileExists},
		{"wrapped coded", fmt.Errorf("download: %w", Errorf(ArchiveNotFound, "job %d", 3)), ArchiveNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(ServerError, nil))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(ServerError, errors.New("connection refused"))
	assert.Equal(t, "server error: connection refused", err.Error())
	assert.True(t, errors.Is(err, err.(*Error).Err))
}

func TestIsError(t *testing.T) {
	assert.True(t, BadID.IsError())
	assert.False(t, JobDone.IsError())
	assert.False(t, OK.IsError())
}
