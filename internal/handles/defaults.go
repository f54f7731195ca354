package handles

// DefaultHandles returns the built-in handle table. Every alias maps to the
// same ProcessingInstructions value as its canonical handle.
func DefaultHandles() []*ProcessingInstructions {
	return []*ProcessingInstructions{
		{
			Handle:             "ask",
			Aliases:            []string{"question", "hi", "hello"},
			ProcessAttachments: true,
			AllowedTools: map[string]bool{
				ToolWebSearch:       true,
				ToolAttachments:     true,
				ToolLinkedIn:        true,
				ToolScheduleTasks:   true,
				ToolDeleteScheduled: true,
			},
			TaskTemplate: "Answer the sender's question directly and completely. " +
				"Use web search when the answer needs current or external information.",
			OutputTemplate: "A direct answer in plain prose. Keep it as short as the question allows.",
		},
		{
			Handle:             "summarize",
			Aliases:            []string{"summary", "tldr"},
			ProcessAttachments: true,
			AllowedTools: map[string]bool{
				ToolAttachments: true,
				ToolWebSearch:   true,
			},
			TaskTemplate: "Summarize the email body and any attachments. " +
				"Preserve key facts, figures, names and dates.",
			OutputTemplate: "A short overview paragraph followed by bullet points of the key items.",
		},
		{
			Handle:                "research",
			Aliases:               []string{"deep-research", "investigate"},
			ProcessAttachments:    true,
			DeepResearchMandatory: true,
			AllowedTools: map[string]bool{
				ToolDeepResearch: true,
				ToolAttachments:  true,
			},
			TaskTemplate: "Research the topic in depth. Cover background, current state, " +
				"differing viewpoints and cite every source used.",
			OutputTemplate:   "A structured report with sections and a references list.",
			TargetModelGroup: "deep-research",
		},
		{
			Handle:             "background-research",
			Aliases:            []string{"background"},
			ProcessAttachments: true,
			AllowedTools: map[string]bool{
				ToolWebSearch:   true,
				ToolLinkedIn:    true,
				ToolAttachments: true,
			},
			TaskTemplate: "Compile background information on the people and companies mentioned " +
				"in the email. Use LinkedIn lookup for professional profiles.",
			OutputTemplate: "One section per person or company, each with sourced facts.",
		},
		{
			Handle:             "fact-check",
			Aliases:            []string{"factcheck", "verify"},
			ProcessAttachments: true,
			AllowedTools: map[string]bool{
				ToolWebSearch:   true,
				ToolAttachments: true,
			},
			TaskTemplate: "Identify the checkable claims in the email and verify each against " +
				"authoritative sources. State a verdict per claim.",
			OutputTemplate: "A table-like list: claim, verdict (true/false/unverifiable), evidence.",
		},
		{
			Handle:             "simplify",
			Aliases:            []string{"eli5", "explain"},
			ProcessAttachments: true,
			AllowedTools: map[string]bool{
				ToolAttachments: true,
			},
			TaskTemplate:   "Rewrite the email content in plain language a layperson can follow.",
			OutputTemplate: "Short paragraphs, no jargon, concrete examples where they help.",
		},
		{
			Handle:                    "translate",
			Aliases:                   []string{"translation"},
			ProcessAttachments:        true,
			RequiresLanguageDetection: true,
			AllowedTools: map[string]bool{
				ToolAttachments: true,
			},
			TaskTemplate: "Detect the source language, then translate the content to the language " +
				"the sender asked for (default: English).",
			OutputTemplate: "The translation only, with a one-line note naming the detected language.",
		},
		{
			Handle:                     "meeting",
			Aliases:                    []string{"invite", "calendar"},
			RequiresScheduleExtraction: true,
			AllowedTools: map[string]bool{
				ToolMeeting:   true,
				ToolWebSearch: true,
			},
			TaskTemplate: "Extract the meeting details (title, start, duration, timezone, attendees, " +
				"location) from the email and create a calendar invite with the create_meeting tool.",
			OutputTemplate: "A confirmation of the meeting details. The invite is attached automatically.",
		},
		{
			Handle:             "pdf",
			Aliases:            []string{"report"},
			ProcessAttachments: true,
			AllowedTools: map[string]bool{
				ToolWebSearch:   true,
				ToolAttachments: true,
				ToolPDFExport:   true,
			},
			TaskTemplate: "Produce the requested document and export it as a PDF with the " +
				"pdf_export tool.",
			OutputTemplate: "A short cover note; the document itself travels as the PDF attachment.",
		},
		{
			Handle:                     "schedule",
			Aliases:                    []string{"remind", "recurring"},
			RequiresScheduleExtraction: true,
			AllowedTools: map[string]bool{
				ToolScheduleTasks:   true,
				ToolDeleteScheduled: true,
			},
			TaskTemplate: "Turn the sender's request into a recurring or one-shot scheduled task " +
				"using the scheduled_tasks tool. Derive the cron expression from their wording.",
			OutputTemplate: "Confirmation with the task id, its cron schedule in words, and how to cancel.",
		},
		{
			Handle:  "delete",
			Aliases: []string{"cancel", "unschedule"},
			AllowedTools: map[string]bool{
				ToolDeleteScheduled: true,
			},
			TaskTemplate:   "Delete the scheduled tasks the sender refers to using delete_scheduled_tasks.",
			OutputTemplate: "Confirmation listing the deleted task ids.",
		},
	}
}
