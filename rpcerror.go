package netconf

import (
	"fmt"

	"go.netframe.dev/netconf/transport"
)

// ErrorInfo carries the optional, ordered <error-info> children §4.5
// defines: session-id, then ordered sequences of bad-attribute,
// bad-element and bad-namespace entries, then free-form fragments for
// app-specific extensions. A tag typically populates only one of the
// bad-* sequences, but the wire format allows more than one entry of a
// given kind, so each is carried as a slice rather than a single value.
type ErrorInfo struct {
	SessionID    uint64
	BadAttribute []string
	BadElement   []string
	BadNamespace []string
	FreeForm     []RawXML
}

func (i *ErrorInfo) empty() bool {
	return i == nil || (i.SessionID == 0 && len(i.BadAttribute) == 0 &&
		len(i.BadElement) == 0 && len(i.BadNamespace) == 0 && len(i.FreeForm) == 0)
}

// WriteRPCError serializes a single RPCError as an <rpc-error> element
// through sw, in the fixed field order RFC 6241 §4.3 mandates:
// error-type, error-tag, error-severity, then the optional error-app-tag,
// error-path, error-message (with its xml:lang attribute) and error-info.
//
// This is the Go rendering of original_source/src/io.c's nc_write_error,
// translated from its write-callback-plus-flag shape into direct calls
// against the §4.3 staging writer.
func WriteRPCError(sw *transport.StagingWriter, e RPCError, info *ErrorInfo, lang string) error {
	if _, err := sw.Write([]byte("<rpc-error>")); err != nil {
		return err
	}

	if err := writeSimpleElement(sw, "error-type", string(e.Type)); err != nil {
		return err
	}
	if err := writeSimpleElement(sw, "error-tag", string(e.Tag)); err != nil {
		return err
	}
	if err := writeSimpleElement(sw, "error-severity", string(e.Severity)); err != nil {
		return err
	}
	if e.AppTag != "" {
		if err := writeSimpleElement(sw, "error-app-tag", e.AppTag); err != nil {
			return err
		}
	}
	if e.Path != "" {
		if err := writeSimpleElement(sw, "error-path", e.Path); err != nil {
			return err
		}
	}
	if e.Message != "" {
		if err := writeMessageElement(sw, e.Message, lang); err != nil {
			return err
		}
	}
	if !info.empty() {
		if err := writeErrorInfo(sw, info); err != nil {
			return err
		}
	}

	_, err := sw.Write([]byte("</rpc-error>"))
	return err
}

func writeSimpleElement(sw *transport.StagingWriter, name, value string) error {
	if _, err := sw.Write([]byte("<" + name + ">")); err != nil {
		return err
	}
	if _, err := sw.WriteContentString(value); err != nil {
		return err
	}
	_, err := sw.Write([]byte("</" + name + ">"))
	return err
}

func writeMessageElement(sw *transport.StagingWriter, message, lang string) error {
	tag := "<error-message>"
	if lang != "" {
		tag = fmt.Sprintf(`<error-message xml:lang=%q>`, lang)
	}
	if _, err := sw.Write([]byte(tag)); err != nil {
		return err
	}
	if _, err := sw.WriteContentString(message); err != nil {
		return err
	}
	_, err := sw.Write([]byte("</error-message>"))
	return err
}

func writeErrorInfo(sw *transport.StagingWriter, info *ErrorInfo) error {
	if _, err := sw.Write([]byte("<error-info>")); err != nil {
		return err
	}
	if info.SessionID != 0 {
		if err := writeSimpleElement(sw, "session-id", fmt.Sprintf("%d", info.SessionID)); err != nil {
			return err
		}
	}
	for _, v := range info.BadAttribute {
		if err := writeSimpleElement(sw, "bad-attribute", v); err != nil {
			return err
		}
	}
	for _, v := range info.BadElement {
		if err := writeSimpleElement(sw, "bad-element", v); err != nil {
			return err
		}
	}
	for _, v := range info.BadNamespace {
		if err := writeSimpleElement(sw, "bad-namespace", v); err != nil {
			return err
		}
	}
	for _, frag := range info.FreeForm {
		if _, err := sw.Write(frag); err != nil {
			return err
		}
	}
	_, err := sw.Write([]byte("</error-info>"))
	return err
}
