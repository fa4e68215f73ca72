// Package llm defines the provider-neutral completion types, API-key
// resolution for the supported backend kinds, and the dispatcher that issues
// exactly one completion call per request. Transports live in sub-packages.
package llm
