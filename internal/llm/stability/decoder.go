package stability

import (
	"fmt"
	"strings"

	"github.com/nulzo/chat-gateway/internal/llm"
	"github.com/nulzo/chat-gateway/pkg/api"
)

// Decoder reads a complete generation response. Every artifact becomes an inline markdown image and the
// response always ends the turn.
var Decoder = llm.DecoderFunc(decode)

func decode(record string) (llm.Frame, error) {
	res, err := llm.ParseRecord(record)
	if err != nil {
		return llm.Frame{}, err
	}
	if msg := res.Get("message"); msg.Exists() && !res.Get("artifacts").Exists() {
		return llm.Frame{}, fmt.Errorf("stability generation error: %s", msg.String())
	}

	var images []string
	for _, a := range res.Get("artifacts").Array() {
		if a.Get("finishReason").String() == "CONTENT_FILTERED" {
			continue
		}
		images = append(images, fmt.Sprintf("![%d](data:image/png;base64,%s)", a.Get("seed").Int(), a.Get("base64").String()))
	}

	frame := llm.Frame{Stop: true}
	if len(images) > 0 {
		frame.Parts = []api.PartMessage{{Role: api.Assistant, Content: strings.Join(images, "\n\n")}}
	}
	return frame, nil
}
