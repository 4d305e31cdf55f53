package errors

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var ae *AmanError
	if !stderrors.As(err, &ae) {
		ae = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", ae.Message)
	if ae.Cause != nil && ae.Cause.Error() != ae.Message {
		fmt.Fprintf(&sb, "  Cause: %v\n", ae.Cause)
	}
	if ae.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", ae.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", ae.Code)
	return sb.String()
}

// LogAttrs returns slog attributes describing err.
func LogAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}

	var ae *AmanError
	if !stderrors.As(err, &ae) {
		return []slog.Attr{slog.String("error", err.Error())}
	}

	attrs := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("error_code", ae.Code),
		slog.String("category", string(ae.Category)),
		slog.Bool("retryable", ae.Retryable),
	}

	keys := make([]string, 0, len(ae.Details))
	for k := range ae.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.String("detail_"+k, ae.Details[k]))
	}
	return attrs
}
