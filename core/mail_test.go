package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_parseTemplates(t *testing.T) {
	require.NoError(t, parseTemplates(true))

	for _, name := range []string{"purchase_confirmation", "welcome", "kit_shipped"} {
		entry, ok := templates[name]
		if assert.True(t, ok, name) {
			assert.Contains(t, entry, ".txt", name)
			assert.Contains(t, entry, ".gohtml", name)
		}
	}
	assert.NotContains(t, templates, "_base")
}

func TestEmailMessage_Render(t *testing.T) {
	require.NoError(t, ParseEmailTemplates(true))

	msg := &EmailMessage{
		TemplateName: "purchase_confirmation",
		TemplateData: map[string]string{
			"Product":   "Course",
			"Amount":    "49.00 usd",
			"Reference": "tx_1",
			"Email":     "a@b.com",
			"LoginURL":  "http://localhost:3000/login",
		},
	}
	require.NoError(t, msg.Render("CourseKit", "http://localhost:3000"))
	assert.Contains(t, msg.TextContent, "Your order reference is tx_1.")
	assert.Contains(t, msg.TextContent, "The CourseKit team")
	assert.NotEmpty(t, msg.HTMLContent)

	unknown := &EmailMessage{TemplateName: "nope"}
	assert.Error(t, unknown.Render("CourseKit", ""))
}
