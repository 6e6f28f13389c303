package domain

// Account is one upstream bot identity with its own concurrency budget.
// Accounts are configured at process start; only the dispatcher mutates
// the running counter, and disabling one just stops future admission.
type Account struct {
	InstanceID     string `json:"instanceId" yaml:"instance_id"`
	GuildID        string `json:"guildId" yaml:"guild_id"`
	ChannelID      string `json:"channelId" yaml:"channel_id"`
	UserToken      string `json:"-" yaml:"user_token"`
	SessionID      string `json:"-" yaml:"session_id"`
	UserAgent      string `json:"-" yaml:"user_agent"`
	MaxConcurrency int    `json:"maxConcurrency" yaml:"max_concurrency"`
	Enabled        bool   `json:"enabled" yaml:"enabled"`
}
