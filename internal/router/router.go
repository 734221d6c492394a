package router

// Route is an inference transport.
type Route string

const (
	Local   Route = "local"
	Cloud   Route = "cloud"
	Legacy  Route = "legacy"
	Blocked Route = "blocked"
)

func (r Route) String() string {
	return string(r)
}

// Flags are the inputs to a routing decision.
type Flags struct {
	LocalMode          bool
	LocalReachable     bool
	LegacyMode         bool
	PreferLocalPrivate bool
	AllowCloudPrivate  bool
	HasCloudKey        bool
	IsPrivate          bool
	WantsWebSearch     bool
}

// Decision is the chosen route and a human-readable reason for it.
type Decision struct {
	Chosen Route  `json:"chosen"`
	Reason string `json:"reason"`
}

// ChooseRoute picks a transport for a turn. It is total over Flags and has no
// side effects.
func ChooseRoute(f Flags) Decision {
	if f.LegacyMode && !f.HasCloudKey {
		return Decision{Legacy, "legacy mode enabled and OpenAI key missing"}
	}

	if f.LocalMode && f.LocalReachable {
		if f.IsPrivate && f.PreferLocalPrivate {
			return Decision{Local, "private request with prefer-local-private enabled"}
		}
		if !f.WantsWebSearch {
			return Decision{Local, "local mode enabled and local endpoint reachable"}
		}
	}

	if f.IsPrivate && !f.AllowCloudPrivate && f.LocalMode && !f.LocalReachable {
		if f.LegacyMode {
			return Decision{Legacy, "private request blocked from cloud and local unavailable"}
		}
		return Decision{Blocked, "private request blocked from cloud and local unavailable"}
	}

	if f.HasCloudKey {
		if f.WantsWebSearch {
			return Decision{Cloud, "web search intent prefers cloud"}
		}
		return Decision{Cloud, "default cloud routing"}
	}

	if f.LegacyMode {
		return Decision{Legacy, "cloud key unavailable, legacy enabled"}
	}

	return Decision{Blocked, "no available route"}
}

// Attempts lists the transports to try, in order, for a decision. A blocked
// decision has no attempts. Cloud is never a fallback for a private request
// unless private cloud use is allowed.
func Attempts(d Decision, f Flags) []Route {
	cloudAllowed := f.HasCloudKey && (!f.IsPrivate || f.AllowCloudPrivate)

	switch d.Chosen {
	case Local:
		out := []Route{Local}
		if cloudAllowed {
			out = append(out, Cloud)
		}
		if f.LegacyMode {
			out = append(out, Legacy)
		}
		return out
	case Legacy:
		out := []Route{Legacy}
		if cloudAllowed {
			out = append(out, Cloud)
		}
		return out
	case Cloud:
		out := []Route{Cloud}
		if f.LocalMode {
			out = append(out, Local)
		}
		if f.LegacyMode {
			out = append(out, Legacy)
		}
		return out
	default:
		return nil
	}
}
