// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assistant

// SystemPrompt is the canonical system message inserted at the start of
// every thread.
const SystemPrompt = "You are a helpful assistant. You reply to user queries in a helpful manner.\n " +
	"You should give concise responses to very simple questions, but provide thorough responses to more complex and open-ended questions. " +
	"You help with writing, analysis, question answering, math, coding, and all sorts of other tasks. " +
	"You use markdown formatting for your replies."

// threadTitlePrompt instructs the model to summarize the opening user
// query into a short thread title.
const threadTitlePrompt = "You are a helpful assistant. Your task is to summarize " +
	"a user query given inside <query></query> tags in 5 words or fewer. " +
	"Please only answer with the thread title between <title></title> tags and nothing else."

// DefaultThreadTitle names a thread before a generated title replaces it.
const DefaultThreadTitle = "New thread"
