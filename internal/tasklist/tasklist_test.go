package tasklist

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "babyagi-task-initiator/internal/errors"
)

func completion(t *testing.T, content string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id": "chatcmpl-9",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	require.NoError(t, err)
	return body
}

func TestParseObjectForm(t *testing.T) {
	raw := completion(t, `{"list":[{"name":"Research","description":"Collect 1900-2000 records"},{"name":"Draft","description":"Write the post","done":true,"result":"ok"}]}`)

	list, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, list.List, 2)
	assert.Equal(t, Task{Name: "Research", Description: "Collect 1900-2000 records"}, list.List[0])
	assert.True(t, list.List[1].Done)
	assert.Equal(t, "ok", list.List[1].Result)
}

func TestParseFencedArray(t *testing.T) {
	raw := completion(t, "```json\n[{\"name\":\"Outline\",\"description\":\"Sketch sections\"}]\n```")

	list, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, list.List, 1)
	assert.Equal(t, "Outline", list.List[0].Name)
	assert.False(t, list.List[0].Done)
}

func TestParseSingleLineFence(t *testing.T) {
	for _, content := range []string{
		"```json {\"list\":[{\"name\":\"Outline\",\"description\":\"Sketch sections\"}]}```",
		"```{\"list\":[{\"name\":\"Outline\",\"description\":\"Sketch sections\"}]}```",
		"```JSON\r\n[{\"name\":\"Outline\",\"description\":\"Sketch sections\"}]\r\n```",
	} {
		list, err := Parse(completion(t, content))
		require.NoError(t, err, content)
		require.Len(t, list.List, 1, content)
		assert.Equal(t, "Outline", list.List[0].Name)
	}
}

func TestStripFence(t *testing.T) {
	cases := map[string]string{
		"plain":             "plain",
		"```json\n[1]\n```": "[1]",
		"```json [1]```":    "[1]",
		"``` [1] ```":       "[1]",
		"```[1]```":         "[1]",
	}
	for input, want := range cases {
		assert.Equal(t, want, stripFence(input), input)
	}
}

func TestParseFailures(t *testing.T) {
	cases := map[string][]byte{
		"invalid body":    []byte("nope"),
		"no choices":      []byte(`{"id":"x"}`),
		"prose content":   completion(t, "Here are some tasks: research, write."),
		"object no array": completion(t, `{"summary":"none"}`),
		"wrong shape":     completion(t, `{"list":[1,2,3]}`),
	}
	for name, raw := range cases {
		_, err := Parse(raw)
		require.Error(t, err, name)
		assert.Equal(t, CodeUnparseable, xerrors.CodeOf(err), name)
	}
}

func TestContent(t *testing.T) {
	content, err := Content(completion(t, "hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", content)
}
