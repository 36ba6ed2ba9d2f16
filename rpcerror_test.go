package netconf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.netframe.dev/netconf/transport"
)

type nopCloseBuffer struct {
	bytes.Buffer
}

func (*nopCloseBuffer) Close() error { return nil }

func renderRPCError(t *testing.T, e RPCError, info *ErrorInfo, lang string) string {
	t.Helper()
	buf := &nopCloseBuffer{}
	sw := transport.NewStagingWriter(buf)
	require.NoError(t, WriteRPCError(sw, e, info, lang))
	require.NoError(t, sw.Close())
	return buf.String()
}

func TestWriteRPCError_MinimalFields(t *testing.T) {
	e := RPCError{Type: ErrTypeProtocol, Tag: ErrInvalidValue, Severity: SevError}
	got := renderRPCError(t, e, nil, "")

	assert.Equal(t, "<rpc-error>"+
		"<error-type>protocol</error-type>"+
		"<error-tag>invalid-value</error-tag>"+
		"<error-severity>error</error-severity>"+
		"</rpc-error>", got)
}

func TestWriteRPCError_OptionalFieldsInOrder(t *testing.T) {
	e := RPCError{
		Type:     ErrTypeApp,
		Tag:      ErrOperationFailed,
		Severity: SevError,
		AppTag:   "my-app:tag",
		Path:     "/top/inner",
		Message:  "operation failed",
	}
	got := renderRPCError(t, e, nil, "")

	assert.Equal(t, "<rpc-error>"+
		"<error-type>application</error-type>"+
		"<error-tag>operation-failed</error-tag>"+
		"<error-severity>error</error-severity>"+
		"<error-app-tag>my-app:tag</error-app-tag>"+
		"<error-path>/top/inner</error-path>"+
		"<error-message>operation failed</error-message>"+
		"</rpc-error>", got)
}

func TestWriteRPCError_MessageWithLang(t *testing.T) {
	e := RPCError{Type: ErrTypeRPC, Tag: ErrMissingElement, Severity: SevError, Message: "bonjour"}
	got := renderRPCError(t, e, nil, "fr")

	assert.Contains(t, got, `<error-message xml:lang="fr">bonjour</error-message>`)
}

func TestWriteRPCError_MessageEscaping(t *testing.T) {
	e := RPCError{Type: ErrTypeRPC, Tag: ErrBadElement, Severity: SevError, Message: "a < b & c > d"}
	got := renderRPCError(t, e, nil, "")

	assert.Contains(t, got, "<error-message>a &lt; b &amp; c &gt; d</error-message>")
}

func TestWriteRPCError_ErrorInfoFields(t *testing.T) {
	e := RPCError{Type: ErrTypeProtocol, Tag: ErrUnknownElement, Severity: SevError}
	info := &ErrorInfo{SessionID: 7, BadElement: []string{"get-config"}}
	got := renderRPCError(t, e, info, "")

	assert.Contains(t, got, "<error-info>"+
		"<session-id>7</session-id>"+
		"<bad-element>get-config</bad-element>"+
		"</error-info>")
}

func TestWriteRPCError_ErrorInfoMultipleEntriesInOrder(t *testing.T) {
	e := RPCError{Type: ErrTypeRPC, Tag: ErrBadElement, Severity: SevError}
	info := &ErrorInfo{
		BadAttribute: []string{"attr-a", "attr-b"},
		BadElement:   []string{"elem-a", "elem-b"},
		BadNamespace: []string{"urn:a"},
	}
	got := renderRPCError(t, e, info, "")

	assert.Contains(t, got, "<error-info>"+
		"<bad-attribute>attr-a</bad-attribute>"+
		"<bad-attribute>attr-b</bad-attribute>"+
		"<bad-element>elem-a</bad-element>"+
		"<bad-element>elem-b</bad-element>"+
		"<bad-namespace>urn:a</bad-namespace>"+
		"</error-info>")
}

func TestWriteRPCError_EmptyErrorInfoOmitted(t *testing.T) {
	e := RPCError{Type: ErrTypeProtocol, Tag: ErrTooBig, Severity: SevWarning}
	got := renderRPCError(t, e, &ErrorInfo{}, "")

	assert.NotContains(t, got, "error-info")
}
