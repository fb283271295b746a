//go:build !sonic

package index

import "github.com/goccy/go-json"

type rawMessage = json.RawMessage

var (
	jsonMarshal   = json.Marshal
	jsonUnmarshal = json.Unmarshal
)
