package observ

import (
	"encoding/json"
	"fmt"
	"time"
)

// Log emits one JSON event line on stdout. The scheduler logs every
// enqueue, retry, throttle and clear through this; kv is not mutated.
func Log(event string, kv map[string]any) {
	out := make(map[string]any, len(kv)+2)
	for k, v := range kv {
		out[k] = v
	}
	out["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	out["event"] = event
	b, _ := json.Marshal(out)
	fmt.Println(string(b))
}
