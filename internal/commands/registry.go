// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"sort"

	"github.com/jeranaias/chatrelay/internal/app"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// Command represents a slash command that can be executed.
type Command struct {
	// Name is the primary command name (e.g., "/help")
	Name string

	// Aliases are alternative names (e.g., "/?")
	Aliases []string

	// Description is shown in help and completion
	Description string

	// Usage shows argument syntax (e.g., "/load <N>")
	Usage string

	// Args defines the expected arguments
	Args []ArgDef

	// Handler is the function that executes the command
	Handler func(ctx *Context, args []string) (Result, error)

	// Hidden commands don't appear in help
	Hidden bool

	// Category for grouping in help display
	Category string
}

// ArgDef defines an argument for a command.
type ArgDef struct {
	// Name of the argument
	Name string

	// Required indicates if the argument must be provided
	Required bool

	// Type determines completion behavior
	Type ArgType

	// Description explains the argument
	Description string

	// Values for enum types
	Values []string
}

// ArgType indicates what kind of completion to provide.
type ArgType int

const (
	ArgTypeString  ArgType = iota // Free-form string
	ArgTypeSession                // 1-based saved session number
	ArgTypeMessage                // 1-based message number in the live conversation
	ArgTypeFile                   // File path
	ArgTypeEnum                   // One of predefined values
)

// Result is what a handler hands back to the front end.
type Result struct {
	// Output is shown to the user as a status or system note.
	Output string

	// Quit asks the front end to exit.
	Quit bool
}

// =============================================================================
// CONTEXT TYPE
// =============================================================================

// Context provides access to application state for command handlers.
type Context struct {
	// Ctx bounds blocking handlers such as /attach.
	Ctx context.Context

	// State is the application core the handlers act on.
	State *app.State

	// Registry is used by /help.
	Registry *Registry

	// ExportDir is the default /export directory.
	ExportDir string
}

// NewContext creates a command context.
func NewContext(ctx context.Context, state *app.State, registry *Registry) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{Ctx: ctx, State: state, Registry: registry, ExportDir: "."}
}

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// Registry holds all registered commands.
type Registry struct {
	commands map[string]*Command
	aliases  map[string]*Command
}

// NewRegistry creates a new command registry with all built-in commands.
func NewRegistry() *Registry {
	r := &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Command),
	}
	r.registerBuiltins()
	return r
}

// Register adds a command to the registry.
func (r *Registry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[alias] = cmd
	}
}

// Get retrieves a command by name or alias.
func (r *Registry) Get(name string) *Command {
	if cmd, ok := r.commands[name]; ok {
		return cmd
	}
	if cmd, ok := r.aliases[name]; ok {
		return cmd
	}
	return nil
}

// All returns all registered commands sorted by name.
func (r *Registry) All() []*Command {
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// ByCategory returns visible commands grouped by category.
func (r *Registry) ByCategory() map[string][]*Command {
	result := make(map[string][]*Command)
	for _, cmd := range r.All() {
		if cmd.Hidden {
			continue
		}
		category := cmd.Category
		if category == "" {
			category = "General"
		}
		result[category] = append(result[category], cmd)
	}
	return result
}

// categoryOrder is the display order of help sections.
var categoryOrder = []string{"Conversation", "Sessions", "Attachments", "Display", "General"}

// =============================================================================
// BUILT-IN COMMANDS
// =============================================================================

func (r *Registry) registerBuiltins() {
	sessionArg := ArgDef{Name: "N", Required: true, Type: ArgTypeSession, Description: "session number from /sessions"}

	r.Register(&Command{
		Name:        "/help",
		Aliases:     []string{"/?"},
		Description: "Show available commands",
		Category:    "General",
		Handler:     handleHelp,
	})
	r.Register(&Command{
		Name:        "/quit",
		Aliases:     []string{"/q"},
		Description: "Exit chatrelay",
		Category:    "General",
		Handler:     handleQuit,
	})

	// Conversation
	r.Register(&Command{
		Name:        "/new",
		Aliases:     []string{"/clear"},
		Description: "Start a new conversation",
		Category:    "Conversation",
		Handler:     handleNew,
	})
	r.Register(&Command{
		Name:        "/reply",
		Description: "Quote a message in your next message",
		Usage:       "/reply <N>",
		Args:        []ArgDef{{Name: "N", Required: true, Type: ArgTypeMessage, Description: "message number"}},
		Category:    "Conversation",
		Handler:     handleReply,
	})
	r.Register(&Command{
		Name:        "/cancel",
		Description: "Stop the response that is streaming",
		Category:    "Conversation",
		Handler:     handleCancel,
	})

	// Sessions
	r.Register(&Command{
		Name:        "/save",
		Description: "Save the current conversation",
		Category:    "Sessions",
		Handler:     handleSave,
	})
	r.Register(&Command{
		Name:        "/sessions",
		Aliases:     []string{"/ls"},
		Description: "List saved sessions",
		Category:    "Sessions",
		Handler:     handleSessions,
	})
	r.Register(&Command{
		Name:        "/load",
		Description: "Load a saved session",
		Usage:       "/load <N>",
		Args:        []ArgDef{sessionArg},
		Category:    "Sessions",
		Handler:     handleLoad,
	})
	r.Register(&Command{
		Name:        "/rename",
		Description: "Rename a saved session",
		Usage:       "/rename <N> <title...>",
		Args: []ArgDef{
			sessionArg,
			{Name: "title", Required: true, Type: ArgTypeString, Description: "new title"},
		},
		Category: "Sessions",
		Handler:  handleRename,
	})
	r.Register(&Command{
		Name:        "/delete",
		Description: "Delete a saved session",
		Usage:       "/delete <N>",
		Args:        []ArgDef{sessionArg},
		Category:    "Sessions",
		Handler:     handleDelete,
	})
	r.Register(&Command{
		Name:        "/export",
		Description: "Export a saved session to a file",
		Usage:       "/export <N> [txt|md|json|html] [dir]",
		Args: []ArgDef{
			sessionArg,
			{Name: "format", Type: ArgTypeEnum, Values: []string{"txt", "md", "json", "html"}, Description: "file format"},
			{Name: "dir", Type: ArgTypeFile, Description: "output directory"},
		},
		Category: "Sessions",
		Handler:  handleExport,
	})
	r.Register(&Command{
		Name:        "/copy",
		Description: "Copy a saved session to the clipboard",
		Usage:       "/copy <N>",
		Args:        []ArgDef{sessionArg},
		Category:    "Sessions",
		Handler:     handleCopy,
	})

	// Attachments
	r.Register(&Command{
		Name:        "/attach",
		Description: "Attach an image to your next message",
		Usage:       "/attach <path>",
		Args:        []ArgDef{{Name: "path", Required: true, Type: ArgTypeFile, Description: "image file"}},
		Category:    "Attachments",
		Handler:     handleAttach,
	})
	r.Register(&Command{
		Name:        "/detach",
		Description: "Drop pending attachments",
		Category:    "Attachments",
		Handler:     handleDetach,
	})

	// Display
	r.Register(&Command{
		Name:        "/theme",
		Description: "Toggle between dark and light theme",
		Category:    "Display",
		Handler:     handleTheme,
	})
	r.Register(&Command{
		Name:        "/sidebar",
		Description: "Show or hide the session sidebar",
		Category:    "Display",
		Handler:     handleSidebar,
	})
}

// =============================================================================
// COMPLETION TYPE
// =============================================================================

// Completion represents a completion suggestion.
type Completion struct {
	// Value to insert
	Value string

	// Display text
	Display string

	// Description shown alongside
	Description string

	// Score for ranking (higher = better match)
	Score int
}
