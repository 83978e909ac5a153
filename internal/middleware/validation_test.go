package middleware

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ridgelineparts/triage/internal/model"
)

func TestValidateIngestRequest(t *testing.T) {
	valid := func() *model.IngestRequest {
		return &model.IngestRequest{
			Channel: "email",
			Subject: "Order status",
			Body:    "Where is my order?",
		}
	}

	assert.NoError(t, ValidateIngestRequest(valid()))

	r := valid()
	r.Channel = ""
	assert.EqualError(t, ValidateIngestRequest(r), "channel is required")

	r = valid()
	r.Channel = strings.Repeat("x", 65)
	assert.Error(t, ValidateIngestRequest(r))

	r = valid()
	r.Body = ""
	assert.Error(t, ValidateIngestRequest(r))

	r = valid()
	r.Subject = strings.Repeat("s", 513)
	assert.Error(t, ValidateIngestRequest(r))

	r = valid()
	r.Subject = "bad \xff subject"
	assert.Error(t, ValidateIngestRequest(r))

	r = valid()
	r.Attachments = []model.Attachment{{Filename: ""}}
	assert.Error(t, ValidateIngestRequest(r))

	r = valid()
	r.Attachments = []model.Attachment{{Filename: "invoice.pdf"}}
	assert.NoError(t, ValidateIngestRequest(r))
}

func TestValidateBody(t *testing.T) {
	assert.Error(t, ValidateBody(""))
	assert.Error(t, ValidateBody(strings.Repeat("a", 100001)))
	assert.Error(t, ValidateBody("bad \xff body"))
	assert.NoError(t, ValidateBody("Will these fit a 2019 Tacoma?"))
}

func TestValidateThreadID(t *testing.T) {
	assert.NoError(t, ValidateThreadID("0195f7a2-3b1c-7def-8000-0123456789ab"))
	assert.Error(t, ValidateThreadID("not-a-uuid"))
	assert.Error(t, ValidateThreadID(""))
}
