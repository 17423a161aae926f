package upstream

import (
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	maxDumpedText = 400
	dataURLPrefix = "data:"
)

// redactPayload prepares an outbound payload for debug logging: long message
// texts are truncated and inline data URLs (base64 images) are elided, since
// either can run to megabytes.
func redactPayload(body []byte) []byte {
	out := body
	gjson.GetBytes(body, "messages").ForEach(func(idx, msg gjson.Result) bool {
		base := "messages." + strconv.Itoa(int(idx.Int()))
		content := msg.Get("content")

		if content.Type == gjson.String {
			if len(content.Str) > maxDumpedText {
				out, _ = sjson.SetBytes(out, base+".content",
					content.Str[:maxDumpedText]+"…("+strconv.Itoa(len(content.Str))+" chars)")
			}
			return true
		}

		content.ForEach(func(bidx, block gjson.Result) bool {
			u := block.Get("image_url.url")
			if u.Exists() && len(u.Str) > len(dataURLPrefix) && u.Str[:len(dataURLPrefix)] == dataURLPrefix {
				path := base + ".content." + strconv.Itoa(int(bidx.Int())) + ".image_url.url"
				out, _ = sjson.SetBytes(out, path, "data:…("+strconv.Itoa(len(u.Str))+" bytes)")
			}
			return true
		})
		return true
	})
	return out
}
