package models

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// Deref returns the pointed-to string or "" when p is nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// EqualPtr reports whether two optional strings are both absent or both present and equal.
func EqualPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
