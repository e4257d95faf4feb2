package scenario

import (
	"fmt"
	"strings"
)

// ID identifies one of the fixed role-play configurations.
type ID string

const (
	ColdCalling ID = "cold_calling"
	DemoPitch   ID = "demo_pitch"
	Upsell      ID = "upsell"

	Default = ColdCalling
)

const (
	GenericOpening  = "Hello! Let's begin your sales training session."
	GenericFallback = "I'm sorry, could you repeat that? I didn't quite catch what you said."

	replyWordCeiling = 50
)

type CustomerProfile struct {
	Role        string   `json:"role"`
	Company     string   `json:"company"`
	Challenges  []string `json:"challenges"`
	Personality string   `json:"personality"`
	InitialMood string   `json:"initial_mood"`
}

type Scenario struct {
	ID          ID              `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Customer    CustomerProfile `json:"customer_profile"`
	Objectives  []string        `json:"objectives"`
	Opening     string          `json:"opening_line"`

	situation string
	behaviors []string
	fallback  string
}

var catalog = []Scenario{
	{
		ID:          ColdCalling,
		Title:       "Cold Calling Practice",
		Description: "Practice your cold calling skills with realistic role-play scenarios.",
		Customer: CustomerProfile{
			Role:        "Operations Manager",
			Company:     "Mid-size manufacturing company",
			Challenges:  []string{"Improving efficiency", "Reducing costs", "Streamlining operations"},
			Personality: "Professional but direct, values concrete benefits over features",
			InitialMood: "Skeptical and busy",
		},
		Objectives: []string{
			"Build rapport quickly",
			"Identify customer pain points",
			"Present value proposition clearly",
			"Handle objections professionally",
			"Secure next meeting or commitment",
		},
		Opening:   "Hello? This is quite unexpected. I'm actually in the middle of something important right now. What is this regarding?",
		situation: "You are a potential customer receiving a cold call from a sales representative. Act realistic and challenging but not impossible to work with.",
		behaviors: []string{
			"Be initially skeptical and busy",
			"Ask probing questions about the value proposition",
			"Show interest if the salesperson demonstrates clear benefits",
			"Raise common objections like budget, timing, or existing solutions",
			"Gradually warm up if the salesperson handles objections well",
		},
		fallback: "I appreciate you calling, but I'm quite busy right now. Can you quickly tell me what this is about?",
	},
	{
		ID:          DemoPitch,
		Title:       "Demo Pitch Training",
		Description: "Perfect your product demonstration and pitch delivery.",
		Customer: CustomerProfile{
			Role:        "Chief Technology Officer",
			Company:     "Growing tech startup",
			Challenges:  []string{"Scaling operations", "Improving team productivity", "Managing technical debt"},
			Personality: "Technical-minded, data-driven, wants to see proof of value",
			InitialMood: "Interested but needs convincing",
		},
		Objectives: []string{
			"Demonstrate key features effectively",
			"Connect features to business benefits",
			"Address technical concerns",
			"Discuss implementation and support",
			"Move toward purchase decision",
		},
		Opening:   "Thank you for setting up this demo. I'm interested to see what you have to show us. Our team is always looking for solutions that can help us scale more efficiently.",
		situation: "You are a potential customer attending a product demonstration. You are interested but need to be convinced of the value.",
		behaviors: []string{
			"Ask specific questions about features and benefits",
			"Compare to existing solutions you might have",
			"Inquire about pricing, implementation, and support",
			"Show interest in ROI and business impact",
			"Be engaged but require thorough explanations",
		},
		fallback: "This looks interesting. Can you tell me more about how this would specifically help our business?",
	},
	{
		ID:          Upsell,
		Title:       "Upselling Practice",
		Description: "Learn to identify and capitalize on upselling opportunities.",
		Customer: CustomerProfile{
			Role:        "Managing Partner",
			Company:     "Established consulting firm",
			Challenges:  []string{"Improving client satisfaction", "Increasing team efficiency", "Staying competitive"},
			Personality: "Relationship-focused, values long-term partnerships, cost-conscious but willing to invest",
			InitialMood: "Satisfied with current service, open to improvements",
		},
		Objectives: []string{
			"Identify expansion opportunities",
			"Present additional value clearly",
			"Address cost concerns",
			"Leverage existing relationship",
			"Secure upgrade or additional services",
		},
		Opening:   "Hi there! Good to hear from you. We've been quite happy with the current service you're providing. What's this about?",
		situation: "You are an existing satisfied customer being approached about additional services or upgrades.",
		behaviors: []string{
			"Express satisfaction with the current service",
			"Be open to hearing about new offerings",
			"Ask about additional costs and value",
			"Consider how new features would benefit your team",
			"Show interest if benefits are clearly explained",
		},
		fallback: "We're happy with our current service. What additional value would this new feature provide?",
	},
}

var byID = func() map[ID]Scenario {
	m := make(map[ID]Scenario, len(catalog))
	for _, s := range catalog {
		m[s.ID] = s
	}
	return m
}()

// All returns the catalog in display order.
func All() []Scenario {
	out := make([]Scenario, len(catalog))
	copy(out, catalog)
	return out
}

func Lookup(id string) (Scenario, bool) {
	s, ok := byID[ID(strings.TrimSpace(id))]
	return s, ok
}

// Resolve returns the scenario for id, or the default scenario when id is unknown.
func Resolve(id string) Scenario {
	if s, ok := Lookup(id); ok {
		return s
	}
	return byID[Default]
}

func OpeningLine(id string) string {
	if s, ok := Lookup(id); ok {
		return s.Opening
	}
	return GenericOpening
}

func FallbackLine(id string) string {
	if s, ok := Lookup(id); ok {
		return s.fallback
	}
	return GenericFallback
}

// Directive renders the behavioral instructions for the simulated customer.
func Directive(id string) string {
	s := Resolve(id)

	var b strings.Builder
	b.WriteString(s.situation)
	b.WriteString("\n\nKey behaviors:\n")
	for _, line := range s.behaviors {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	fmt.Fprintf(&b, "- Keep responses conversational and under %d words\n", replyWordCeiling)
	b.WriteString("- Reply in plain spoken prose only: no markdown, lists, stage directions, or text in brackets\n")
	fmt.Fprintf(&b, "\nYour company: %s, you're the %s\n", s.Customer.Company, s.Customer.Role)
	fmt.Fprintf(&b, "Current challenges: %s\n", strings.Join(s.Customer.Challenges, ", "))
	fmt.Fprintf(&b, "Personality: %s\n", s.Customer.Personality)
	fmt.Fprintf(&b, "Starting mood: %s", s.Customer.InitialMood)
	return b.String()
}

// Label renders an id for prompts and titles, e.g. "cold calling".
func Label(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		id = string(Default)
	}
	return strings.ReplaceAll(id, "_", " ")
}
