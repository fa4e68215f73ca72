// Package agent exposes the task initiator entry point. Run dispatches a
// named operation from an explicit table; generate_tasks assembles the
// system/user prompt and performs exactly one completion call, returning the
// raw response as JSON text. Parsing the response into a task list is left
// to the caller.
package agent
