package model

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"not found", NotFound("model %q not found", "dc1"), KindNotFound},
		{"validation", Invalid("epochs must be positive"), KindValidation},
		{"io", IOFailure(errors.New("disk full"), "write %s", "x"), KindIO},
		{"upstream", Upstream(errors.New("eof"), "generate"), KindUpstream},
		{"plain", errors.New("boom"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
		})
	}
}

func TestErrorKind_SurvivesWrapping(t *testing.T) {
	t.Parallel()

	err := eris.Wrap(NotFound("summary missing"), "predict")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))
	assert.Contains(t, err.Error(), "summary missing")
}

func TestIOFailure_KeepsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("permission denied")
	err := IOFailure(cause, "delete %s", "a.csv")
	assert.True(t, IsIO(err))
	assert.ErrorIs(t, err, cause)
}
