package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreachErrorFormatting(t *testing.T) {
	err := NewCompileError("unexpected token", errors.New("esbuild")).
		WithSection(SectionRef{Tag: "ts", Ordinal: 2}).
		WithLocation(4, 7)

	assert.Equal(t, "[ERR_COMPILE] section:ts#2 line 4:7 unexpected token: esbuild", err.Error())
}

func TestBreachErrorIs(t *testing.T) {
	wrapped := fmt.Errorf("cycle: %w", NewMalformedDelimiter(3, "marker without tag"))

	assert.True(t, errors.Is(wrapped, NewMalformedDelimiter(0, "")))
	assert.False(t, errors.Is(wrapped, NewUnknownLanguage("x")))
	assert.True(t, IsMalformedDelimiter(wrapped))
	assert.False(t, IsCompileError(wrapped))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsWatchError(NewWatchError("gone", nil)))
	assert.True(t, IsUnknownLanguage(NewUnknownLanguage("cobol")))
	assert.True(t, IsRecoverable(NewIOError("write", nil)))
	assert.False(t, IsRecoverable(NewConfigError("bad")))
	assert.False(t, IsRecoverable(errors.New("plain")))
}

func TestUnknownLanguageMessage(t *testing.T) {
	assert.Contains(t, NewUnknownLanguage("cobol").Error(), `"cobol"`)
	assert.Contains(t, NewUnknownLanguage("").Error(), "empty language tag")
}

func TestDiagnosticFromError(t *testing.T) {
	t.Run("breach error keeps code and location", func(t *testing.T) {
		ref := SectionRef{Tag: "scss", Ordinal: 1}
		d := DiagnosticFromError(NewCompileError("unclosed block", nil).WithLocation(2, 5), &ref)

		assert.Equal(t, SeverityError, d.Severity)
		assert.Equal(t, ErrCodeCompile, d.Code)
		assert.Equal(t, "unclosed block", d.Message)
		assert.Equal(t, 2, d.Line)
		assert.Equal(t, 5, d.Column)
		require.NotNil(t, d.Section)
		assert.Equal(t, "scss", d.Section.Tag)
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		d := DiagnosticFromError(errors.New("boom"), nil)
		assert.Equal(t, ErrCodeInternal, d.Code)
		assert.Equal(t, "boom", d.Message)
	})
}

func TestSeverityJSON(t *testing.T) {
	d := Diagnostic{Severity: SeverityWarning, Message: "m"}
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"severity":"warning"`)

	var back Diagnostic
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, SeverityWarning, back.Severity)

	assert.Error(t, json.Unmarshal([]byte(`{"severity":"loud"}`), &back))
}

func TestHasErrors(t *testing.T) {
	assert.False(t, HasErrors(nil))
	assert.False(t, HasErrors([]Diagnostic{{Severity: SeverityWarning}}))
	assert.True(t, HasErrors([]Diagnostic{{Severity: SeverityWarning}, {Severity: SeverityError}}))
	assert.Equal(t, 2, CountErrors([]Diagnostic{{Severity: SeverityError}, {Severity: SeverityError}, {}}))
}

func TestRenderOverlay(t *testing.T) {
	t.Run("escapes messages", func(t *testing.T) {
		html, err := RenderOverlay(context.Background(), []Diagnostic{{
			Severity: SeverityError,
			Code:     ErrCodeCompile,
			Message:  "<script>alert(1)</script>",
			Section:  &SectionRef{Tag: "scss", Ordinal: 0},
		}})
		require.NoError(t, err)

		assert.Contains(t, html, OverlayID)
		assert.Contains(t, html, "&lt;script&gt;")
		assert.NotContains(t, html, "<script>alert(1)</script>")
		assert.Contains(t, html, "scss#0")
	})

	t.Run("info only renders nothing", func(t *testing.T) {
		html, err := RenderOverlay(context.Background(), []Diagnostic{{Severity: SeverityInfo, Message: "fyi"}})
		require.NoError(t, err)
		assert.Empty(t, html)
	})
}
