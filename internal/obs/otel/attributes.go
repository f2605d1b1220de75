package otel

import "go.opentelemetry.io/otel/attribute"

// Attribute keys attached to every loop metric
var (
	// AttrLLMDialect identifies the wire dialect (e.g., "openai_compatible")
	AttrLLMDialect = attribute.Key("llm.dialect")

	// AttrLLMModel identifies the model requested for the step
	AttrLLMModel = attribute.Key("llm.model")

	// AttrLLMTokenType identifies the type of token (input/output)
	AttrLLMTokenType = attribute.Key("llm.token_type")

	// AttrLLMTokenEstimated is true when usage came from the local estimator
	AttrLLMTokenEstimated = attribute.Key("llm.token.estimated")

	// AttrLLMResponseStatus indicates the response status (success, error, canceled)
	AttrLLMResponseStatus = attribute.Key("llm.response.status")

	// AttrToolName identifies the executed tool
	AttrToolName = attribute.Key("agent.tool.name")

	// AttrToolStatus is "success" or "error"
	AttrToolStatus = attribute.Key("agent.tool.status")

	// AttrStopReason tells why a run ended
	AttrStopReason = attribute.Key("agent.stop_reason")
)
