package types

// Confirm is the dialog shown before an action's command is submitted.
type Confirm struct {
	Title       string `json:"title"`
	Text        string `json:"text"`
	OkText      string `json:"okText,omitempty"`
	DismissText string `json:"dismissText,omitempty"`
}

// Option is one entry of a menu action.
type Option struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// RoleGlobal marks actions that stay on the message for every viewer.
const RoleGlobal = "global"

// Action is a rendered control bound to a command. The rendering engine
// produces actions but never executes the bound command.
type Action struct {
	Text       string            `json:"text"`
	Role       string            `json:"role,omitempty"`
	Confirm    *Confirm          `json:"confirm,omitempty"`
	Command    string            `json:"command"`
	Parameters map[string]string `json:"parameters,omitempty"`

	// Menu actions: Options are offered and the chosen value is bound to
	// the parameter named OptionParameter.
	Options         []Option `json:"options,omitempty"`
	OptionParameter string   `json:"optionParameter,omitempty"`
}

// IsMenu reports whether the action renders as a select menu.
func (a Action) IsMenu() bool {
	return len(a.Options) > 0
}

// ActionOption customizes an action built by ButtonForCommand.
type ActionOption func(*Action)

// WithRole sets the action role.
func WithRole(role string) ActionOption {
	return func(a *Action) { a.Role = role }
}

// WithConfirm attaches a confirmation dialog.
func WithConfirm(c Confirm) ActionOption {
	return func(a *Action) { a.Confirm = &c }
}

// ButtonForCommand binds a button to cmd. The parameter map is a copy;
// later changes to cmd cannot leak into the action.
func ButtonForCommand(text string, cmd Command, opts ...ActionOption) Action {
	a := Action{
		Text:       text,
		Command:    cmd.CommandName(),
		Parameters: cmd.Parameters(),
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// MenuForCommand binds a select menu to cmd. The chosen option's value is
// bound to the parameter named param.
func MenuForCommand(text string, cmd Command, param string, options []Option, opts ...ActionOption) Action {
	a := ButtonForCommand(text, cmd, opts...)
	a.Options = append([]Option(nil), options...)
	a.OptionParameter = param
	return a
}

// Bind returns the action's parameters with a chosen menu value applied.
// For buttons the value is ignored.
func (a Action) Bind(value string) map[string]string {
	params := make(map[string]string, len(a.Parameters)+1)
	for k, v := range a.Parameters {
		params[k] = v
	}
	if a.IsMenu() && a.OptionParameter != "" {
		params[a.OptionParameter] = value
	}
	return params
}
