package navigator

import (
	"fmt"
	"net/url"
	"strings"
)

// SearchURL returns the result URL for plate. The endpoint takes a
// URL-encoded PHP serialized array in the businfo parameter:
//
//	a:1:{i:0;s:7:"PCJ8619";}
func SearchURL(base, plate string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("navigator: parse search url: %w", err)
	}
	q := u.Query()
	q.Set("businfo", phpSerializeList(plate))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// phpSerializeList encodes values as a PHP serialize() indexed array.
// String lengths are byte counts, as PHP expects.
func phpSerializeList(values ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "a:%d:{", len(values))
	for i, v := range values {
		fmt.Fprintf(&b, "i:%d;s:%d:\"%s\";", i, len(v), v)
	}
	b.WriteString("}")
	return b.String()
}
