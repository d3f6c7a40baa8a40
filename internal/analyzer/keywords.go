package analyzer

import "github.com/ashureev/shsh-guard/internal/convo"

// All tables are matched as case-insensitive substrings of the message.

var techBuckets = []struct {
	level    convo.TechLevel
	keywords []string
}{
	{
		level: convo.TechBeginner,
		keywords: []string{
			"not tech", "not technical", "beginner", "confused", "don't understand",
			"dont understand", "what is a", "what's a", "new to this", "no idea",
			"explain simply", "simple terms", "not good with computers",
		},
	},
	{
		level: convo.TechIntermediate,
		keywords: []string{
			"two-factor", "2fa", "password manager", "antivirus", "privacy settings",
			"software update", "backup", "authenticator", "browser extension", "router",
		},
	},
	{
		level: convo.TechAdvanced,
		keywords: []string{
			"encryption", "hashing", "hash function", "firewall", "protocol", "ssh key",
			"certificate", "exploit", "zero-day", "sandbox", "packet", "port forwarding",
			"threat model", "pgp", "yubikey",
		},
	},
}

// moodBuckets is ordered: when several buckets match one message the last one wins.
var moodBuckets = []struct {
	mood     convo.Mood
	keywords []string
}{
	{
		mood: convo.MoodStressed,
		keywords: []string{
			"urgent", "help now", "emergency", "panic", "asap", "immediately",
			"right now", "freaking out", "hacked", "locked out",
		},
	},
	{
		mood: convo.MoodConcerned,
		keywords: []string{
			"worried", "concerned", "afraid", "scared", "nervous", "suspicious",
			"not sure", "uneasy", "is it safe",
		},
	},
	{
		mood: convo.MoodCurious,
		keywords: []string{
			"curious", "wondering", "how does", "tell me about", "interested in",
			"want to learn", "what are",
		},
	},
	{
		mood: convo.MoodSatisfied,
		keywords: []string{
			"thanks", "thank you", "that worked", "perfect", "solved", "all set",
			"feel better", "appreciate",
		},
	},
}

// concernCategories maps each threat tag to its trigger phrases.
var concernCategories = []struct {
	tag      string
	keywords []string
}{
	{
		tag: "email_breach",
		keywords: []string{
			"breach", "pwned", "leaked", "data leak", "email hacked",
			"email compromised", "have i been",
		},
	},
	{
		tag:      "password_security",
		keywords: []string{"password", "passcode", "passphrase", "login credentials"},
	},
	{
		tag: "identity_theft",
		keywords: []string{
			"identity theft", "stolen identity", "identity stolen", "social security",
			"ssn", "someone opened",
		},
	},
	{
		tag: "phone_scam",
		keywords: []string{
			"scam call", "robocall", "phone scam", "spam call", "text scam",
			"smishing", "caller id", "strange number",
		},
	},
	{
		tag: "malware",
		keywords: []string{
			"virus", "malware", "ransomware", "spyware", "trojan", "infected",
			"pop-ups", "popups",
		},
	},
	{
		tag: "financial_fraud",
		keywords: []string{
			"fraud", "credit card", "bank account", "unauthorized charge",
			"unauthorized transaction", "wire transfer", "unknown charge",
		},
	},
	{
		tag: "social_media",
		keywords: []string{
			"facebook", "instagram", "twitter", "social media", "tiktok",
			"linkedin", "snapchat",
		},
	},
}

// toolMentions are tool names recorded verbatim into the preferred tools set.
var toolMentions = []string{
	"password manager", "vpn", "antivirus", "authenticator", "2fa",
	"credit monitoring", "firewall", "ad blocker", "identity monitor",
}
