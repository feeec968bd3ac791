// Package handlers implements the registered job_type handlers that give
// the scheduler core something real to dispatch: daily_summary,
// send_chat_message, work_sampling_prompt, heartbeat_event, and user_sync.
// Each is grounded in the external-collaborator ports (ChatClient,
// LLMClient, LogStore, UserSettingsStore) declared alongside their
// respective adapters; this package only wires the ports together per job
// type and never imports a concrete adapter.
package handlers

import (
	"github.com/eykd/companion-memory/internal/chat"
	"github.com/eykd/companion-memory/internal/dispatch"
	"github.com/eykd/companion-memory/internal/llmclient"
	"github.com/eykd/companion-memory/internal/logstore"
	"github.com/eykd/companion-memory/internal/pkg/logs"
	"github.com/eykd/companion-memory/internal/usersettings"
)

// Extra keys under which the collaborators a handler needs are looked up
// in dispatch.Context.Extra. Declared once here so cmd/companion's wiring
// and this package's handlers never drift apart on the key spelling.
const (
	ExtraKeyChat         = "chat"
	ExtraKeyLLM          = "llm"
	ExtraKeyLogStore     = "logstore"
	ExtraKeyUserSettings = "usersettings"
	ExtraKeyLogger       = "logger"
)

func chatClient(hctx *dispatch.Context) (chat.Client, bool) {
	c, ok := hctx.Extra[ExtraKeyChat].(chat.Client)
	return c, ok
}

func llmClient(hctx *dispatch.Context) (llmclient.Client, bool) {
	c, ok := hctx.Extra[ExtraKeyLLM].(llmclient.Client)
	return c, ok
}

func logStore(hctx *dispatch.Context) (logstore.Store, bool) {
	s, ok := hctx.Extra[ExtraKeyLogStore].(logstore.Store)
	return s, ok
}

func userSettings(hctx *dispatch.Context) (usersettings.Store, bool) {
	s, ok := hctx.Extra[ExtraKeyUserSettings].(usersettings.Store)
	return s, ok
}

func logger(hctx *dispatch.Context) logs.Logger {
	l, _ := hctx.Extra[ExtraKeyLogger].(logs.Logger)
	return l
}

// RegisterAll registers every handler this package knows about against
// reg. Called once at process init by the shared cmd/companion bootstrap,
// so every subcommand (scheduler, job-worker and web) gets a full registry.
func RegisterAll(reg *dispatch.Registry) {
	reg.Register(heartbeatEventRegistration())
	reg.Register(sendChatMessageRegistration())
	reg.Register(dailySummaryRegistration())
	reg.Register(workSamplingPromptRegistration())
	reg.Register(userSyncRegistration())
}
