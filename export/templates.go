package export

import (
	"fmt"
	"strings"
	"text/template"
)

type scriptData struct {
	EventID string
	Payload string
}

func pick(f Format, sdk, http string) string {
	if f == FormatPythonHTTP {
		return http
	}
	return sdk
}

func render(tmpl string, data scriptData) (string, error) {
	t, err := template.New("script").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("export: parse template: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("export: render: %w", err)
	}
	return b.String(), nil
}

const anthropicSDK = `import os
import anthropic

client = anthropic.Anthropic(api_key=os.environ["ANTHROPIC_API_KEY"])

def run():
    # Step 1: Recreate assistant turn {{.EventID}}
    response_1 = client.messages.create(**{{.Payload}})
    print("assistant 1:", response_1)

if __name__ == "__main__":
    run()
`

const anthropicHTTP = `import os
import json
import requests

ANTHROPIC_API_KEY = os.environ.get("ANTHROPIC_API_KEY")

def run():
    if not ANTHROPIC_API_KEY:
        raise RuntimeError("Set the ANTHROPIC_API_KEY environment variable before running this script.")

    headers = {
        "Content-Type": "application/json",
        "x-api-key": ANTHROPIC_API_KEY,
        "anthropic-version": "2023-06-01",
    }

    # Replay the recorded assistant turn {{.EventID}}
    body = {{.Payload}}
    response = requests.post(
        'https://api.anthropic.com/v1/messages',
        headers=headers,
        json=body,
    )
    response.raise_for_status()
    data = response.json()
    print(json.dumps(data, indent=2))

if __name__ == "__main__":
    run()
`

const responsesSDK = `import os
import json
from openai import OpenAI

client = OpenAI(api_key=os.environ.get("OPENAI_API_KEY"))

def run():
    # Replay the recorded assistant turn {{.EventID}}
    payload = {{.Payload}}
    response = client.responses.create(**payload)
    print(json.dumps(response.model_dump(), indent=2))

if __name__ == "__main__":
    run()
`

const chatSDK = `import os
import json
from openai import OpenAI

client = OpenAI(api_key=os.environ.get("OPENAI_API_KEY"))

def run():
    # Replay the recorded assistant turn {{.EventID}}
    payload = {{.Payload}}
    response = client.chat.completions.create(**payload)
    print(json.dumps(response.model_dump(), indent=2))

if __name__ == "__main__":
    run()
`

const openAIHTTP = `import os
import json
import requests

OPENAI_API_KEY = os.environ.get("OPENAI_API_KEY")

def run():
    if not OPENAI_API_KEY:
        raise RuntimeError("Set the OPENAI_API_KEY environment variable before running this script.")

    headers = {
        "Content-Type": "application/json",
        "Authorization": f"Bearer {OPENAI_API_KEY}",
    }

    # Replay the recorded assistant turn {{.EventID}}
    body = {{.Payload}}
    response = requests.post(
        'https://api.openai.com/v1/%s',
        headers=headers,
        json=body,
    )
    response.raise_for_status()
    data = response.json()
    print(json.dumps(data, indent=2))

if __name__ == "__main__":
    run()
`

var (
	responsesHTTP = fmt.Sprintf(openAIHTTP, "responses")
	chatHTTP      = fmt.Sprintf(openAIHTTP, "chat/completions")
)
