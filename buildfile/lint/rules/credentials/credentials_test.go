package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile/lint"
)

const source = "pkg@git+https://github.com/org/pkg@4b0c3d8f6f1e4f1a9c7c2b8d0e5a6b7c8d9e0f1a"

func check(t *testing.T, rule lint.Rule, content string) []string {
	t.Helper()
	f, err := buildfile.ParseString(content)
	require.NoError(t, err)

	var messages []string
	for _, i := range rule.Check(lint.NewContext(f)) {
		assert.Equal(t, rule.Name(), i.Rule)
		messages = append(messages, i.Message)
	}
	return messages
}

func TestCredentialHelperRule(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name: "complete",
			content: `FROM python:3.10
ARG GIT_ASKPASS
ARG GIT_ACCESS_TOKEN
COPY git-askpass /
RUN pip install ` + source + `
`,
		},
		{
			name: "no source packages",
			content: `FROM python:3.10
RUN pip install numpy==1.26.4
`,
		},
		{
			name: "helper copied after install",
			content: `FROM python:3.10
ARG GIT_ASKPASS
ARG GIT_ACCESS_TOKEN
RUN pip install ` + source + `
COPY git-askpass /
`,
			want: []string{"source package installed before an askpass credential helper is copied into the image"},
		},
		{
			name: "missing args",
			content: `FROM python:3.10
COPY git-askpass /
RUN pip install ` + source + `
RUN pip install ` + source + `
`,
			want: []string{
				"source package installed without declaring ARG GIT_ASKPASS",
				"source package installed without declaring ARG GIT_ACCESS_TOKEN",
			},
		},
		{
			name: "secret default",
			content: `FROM python:3.10
ARG GIT_ACCESS_TOKEN=abc123
`,
			want: []string{"secret argument GIT_ACCESS_TOKEN must not have a default value"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, check(t, NewCredentialHelperRule(), tt.content))
		})
	}
}

func TestDeclaredArgsRule(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name: "registry declared before FROM",
			content: `ARG REGISTRY_HOST
FROM $REGISTRY_HOST/base:1
RUN echo $HOME
`,
		},
		{
			name:    "undeclared in FROM",
			content: "FROM ${REGISTRY_HOST}/base:1\n",
			want:    []string{"FROM references undeclared argument REGISTRY_HOST"},
		},
		{
			name: "pre-FROM arg is out of scope after FROM",
			content: `ARG VERSION=1
FROM base:$VERSION
WORKDIR /opt/$VERSION
`,
			want: []string{"WORKDIR references undeclared argument VERSION"},
		},
		{
			name: "ENV declares names",
			content: `FROM base:1
ENV APP_HOME=/app
WORKDIR $APP_HOME
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, check(t, NewDeclaredArgsRule(), tt.content))
		})
	}
}
