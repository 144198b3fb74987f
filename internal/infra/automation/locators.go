package automation

import "crm-delivery-engine/internal/domain/ports/adapter"

// Ordered fallback locators per logical element: a data-attribute selector
// first, then class-based, then text-based. The CRM renames markup between
// releases; only the last resort should ever need a code change.

var locMessageBox = []adapter.Locator{
	{Strategy: adapter.LocatorCSS, Value: `[data-id="chat-input"]`},
	{Strategy: adapter.LocatorCSS, Value: `.feed-compose__message`},
	{Strategy: adapter.LocatorXPath, Value: `//div[@contenteditable="true"]`},
}

var locMessageSend = []adapter.Locator{
	{Strategy: adapter.LocatorCSS, Value: `[data-id="chat-send"]`},
	{Strategy: adapter.LocatorCSS, Value: `.feed-note__button-send`},
	{Strategy: adapter.LocatorXPath, Value: `//button[contains(., "Send")]`},
}

var locNoteTab = []adapter.Locator{
	{Strategy: adapter.LocatorCSS, Value: `[data-id="note-tab"]`},
	{Strategy: adapter.LocatorCSS, Value: `.feed-compose-switcher__note`},
	{Strategy: adapter.LocatorXPath, Value: `//div[contains(@class,"switcher")][contains(., "Note")]`},
}

var locNoteBox = []adapter.Locator{
	{Strategy: adapter.LocatorCSS, Value: `[data-id="note-input"]`},
	{Strategy: adapter.LocatorCSS, Value: `.feed-compose__note`},
	{Strategy: adapter.LocatorXPath, Value: `//textarea[contains(@class,"note")]`},
}

var locNoteSave = []adapter.Locator{
	{Strategy: adapter.LocatorCSS, Value: `[data-id="note-save"]`},
	{Strategy: adapter.LocatorCSS, Value: `.feed-note__button-save`},
	{Strategy: adapter.LocatorXPath, Value: `//button[contains(., "Add note")]`},
}

var locTaskTab = []adapter.Locator{
	{Strategy: adapter.LocatorCSS, Value: `[data-id="task-tab"]`},
	{Strategy: adapter.LocatorCSS, Value: `.feed-compose-switcher__task`},
	{Strategy: adapter.LocatorXPath, Value: `//div[contains(@class,"switcher")][contains(., "Task")]`},
}

var locTaskBox = []adapter.Locator{
	{Strategy: adapter.LocatorCSS, Value: `[data-id="task-input"]`},
	{Strategy: adapter.LocatorCSS, Value: `.feed-compose__task`},
	{Strategy: adapter.LocatorXPath, Value: `//textarea[contains(@class,"task")]`},
}

var locTaskSave = []adapter.Locator{
	{Strategy: adapter.LocatorCSS, Value: `[data-id="task-save"]`},
	{Strategy: adapter.LocatorCSS, Value: `.feed-task__button-save`},
	{Strategy: adapter.LocatorXPath, Value: `//button[contains(., "Add task")]`},
}

// Present only when the session is authenticated.
var locWorkspace = []adapter.Locator{
	{Strategy: adapter.LocatorCSS, Value: `[data-id="lead-card"]`},
	{Strategy: adapter.LocatorCSS, Value: `.card-holder`},
	{Strategy: adapter.LocatorXPath, Value: `//div[contains(@class,"card")]`},
}

// Login form, for the configured-credentials fallback.
var locLoginEmail = []adapter.Locator{
	{Strategy: adapter.LocatorCSS, Value: `[data-id="auth-login"]`},
	{Strategy: adapter.LocatorCSS, Value: `input[name="username"]`},
	{Strategy: adapter.LocatorXPath, Value: `//input[@type="email"]`},
}

var locLoginPassword = []adapter.Locator{
	{Strategy: adapter.LocatorCSS, Value: `[data-id="auth-password"]`},
	{Strategy: adapter.LocatorCSS, Value: `input[name="password"]`},
	{Strategy: adapter.LocatorXPath, Value: `//input[@type="password"]`},
}

var locLoginSubmit = []adapter.Locator{
	{Strategy: adapter.LocatorCSS, Value: `[data-id="auth-submit"]`},
	{Strategy: adapter.LocatorCSS, Value: `button[type="submit"]`},
	{Strategy: adapter.LocatorXPath, Value: `//button[contains(., "Log in")]`},
}
