package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/dayloom/internal/errors"
)

// decode round-trips the tool arguments through JSON into T. Any failure is
// reported as INVALID_REQUEST naming the tool.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	args := req.GetArguments()
	if len(args) == 0 {
		return result, nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return result, errors.NewInvalidRequest(fmt.Sprintf("%s: arguments are not JSON: %v", req.Params.Name, err))
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, errors.NewInvalidRequest(fmt.Sprintf("%s: invalid arguments: %v", req.Params.Name, err))
	}
	return result, nil
}
