package patchcheck

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireTool(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not installed", name)
	}
}

func TestCheck_PythonValid(t *testing.T) {
	requireTool(t, "python3")
	err := New().Check(context.Background(), "python", "ok.py", []byte("def f():\n    return 1\n"))
	assert.NoError(t, err)
}

func TestCheck_PythonSyntaxError(t *testing.T) {
	requireTool(t, "python3")
	err := New().Check(context.Background(), "python", "bad.py", []byte("def f(:\n    return 1\n"))
	var ce *CheckError
	require.True(t, errors.As(err, &ce), "want CheckError, got %v", err)
	assert.Equal(t, "python", ce.Language)
	assert.NotEmpty(t, ce.Output)
}

func TestCheck_JavaScript(t *testing.T) {
	requireTool(t, "node")
	c := New()
	assert.NoError(t, c.Check(context.Background(), "javascript", "ok.js", []byte("const x = 1;\n")))

	err := c.Check(context.Background(), "javascript", "bad.js", []byte("const x = ;\n"))
	var ce *CheckError
	require.True(t, errors.As(err, &ce))
}

func TestCheck_UnknownLanguageAccepts(t *testing.T) {
	assert.NoError(t, New().Check(context.Background(), "", "README.md", []byte("anything")))
	assert.NoError(t, New().Check(context.Background(), "cobol", "x.cbl", []byte("anything")))
}

func TestCheckError_Message(t *testing.T) {
	e := &CheckError{Language: "python", Checker: "py_compile", Output: "invalid syntax"}
	assert.Contains(t, e.Error(), "invalid syntax")
	empty := &CheckError{Language: "ruby", Checker: "ruby -c"}
	assert.Contains(t, empty.Error(), "check failed")
}
