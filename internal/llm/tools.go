package llm

import (
	"encoding/json"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const timeToolName = "get_utc_plus3_time"

var utcPlus3 = time.FixedZone("UTC+3", 3*60*60)

// toolOutputs answers every tool call an assistant run is waiting on.
// Unknown functions get a stub result so the run can proceed.
func toolOutputs(calls []openai.ToolCall, now time.Time) []openai.ToolOutput {
	outputs := make([]openai.ToolOutput, 0, len(calls))
	for _, call := range calls {
		var payload map[string]string
		switch call.Function.Name {
		case timeToolName:
			payload = map[string]string{
				"time":     now.In(utcPlus3).Format("2006-01-02 15:04:05"),
				"timezone": "UTC+3",
			}
		default:
			payload = map[string]string{"result": "function_not_implemented"}
		}

		data, _ := json.Marshal(payload)
		outputs = append(outputs, openai.ToolOutput{
			ToolCallID: call.ID,
			Output:     string(data),
		})
	}
	return outputs
}
