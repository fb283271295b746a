//go:build sonic

package index

import (
	stdjson "encoding/json"

	"github.com/bytedance/sonic"
)

type rawMessage = stdjson.RawMessage

var (
	jsonMarshal   = sonic.Marshal
	jsonUnmarshal = sonic.Unmarshal
)
