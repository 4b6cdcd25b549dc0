// Package scenario defines the fixed call scenarios the service can run.
//
// A scenario bundles a persona system prompt, the caller-supplied parameters
// the prompt requires, the synthesis voice for the reply, and whether replies
// should be scanned for structured order blocks. Scenarios are static: they
// are declared here and selected by name from the request path.
package scenario

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// StartSentinel is substituted for the caller input on the first turn of a
// call, prompting the persona to open the conversation.
const StartSentinel = "Call connected..."

// ErrUnknown is returned when no scenario is registered under a name.
var ErrUnknown = errors.New("scenario: unknown scenario")

// ErrMissingParam is returned when a required template parameter is absent or
// empty. The wrapping error names the parameter.
var ErrMissingParam = errors.New("scenario: missing required parameter")

// Scenario is one fixed call configuration.
type Scenario struct {
	// Name is the identifier used in request paths.
	Name string

	// Voice is the TTS voice used for this scenario's replies. Empty means
	// the provider default.
	Voice string

	// Required lists the parameter keys the system prompt needs. The list of
	// products is passed under the "products" key, pre-rendered one per line.
	Required []string

	// ExtractOrders enables structured order extraction on replies.
	ExtractOrders bool

	tmpl *template.Template
}

// RenderSystemPrompt fills the scenario's system template with the given
// parameters. Every key in Required must be present and non-empty; the first
// missing one is reported via ErrMissingParam.
func (s *Scenario) RenderSystemPrompt(params map[string]string) (string, error) {
	for _, key := range s.Required {
		if strings.TrimSpace(params[key]) == "" {
			return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
		}
	}
	var b strings.Builder
	if err := s.tmpl.Execute(&b, params); err != nil {
		return "", fmt.Errorf("scenario: render %s: %w", s.Name, err)
	}
	return b.String(), nil
}

// FormatProducts renders a product list as one item per line for template
// substitution.
func FormatProducts(products []string) string {
	lines := make([]string, 0, len(products))
	for _, p := range products {
		if p = strings.TrimSpace(p); p != "" {
			lines = append(lines, "- "+p)
		}
	}
	return strings.Join(lines, "\n")
}

// Get returns the scenario registered under name.
func Get(name string) (*Scenario, error) {
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return s, nil
}

// Names returns the registered scenario names, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var registry = map[string]*Scenario{}

func register(s *Scenario, text string) {
	s.tmpl = template.Must(template.New(s.Name).Option("missingkey=error").Parse(text))
	registry[s.Name] = s
}

func init() {
	register(&Scenario{
		Name:     "supplier",
		Voice:    "en-US-AvaMultilingualNeural",
		Required: []string{"companyName", "products"},
	}, supplierPrompt)

	register(&Scenario{
		Name:  "warehouse",
		Voice: "en-US-AvaMultilingualNeural",
		Required: []string{
			"companyName", "supplierName", "supplierContact",
			"expectedDeliveryDate", "products",
		},
	}, warehousePrompt)

	register(&Scenario{
		Name:          "customer-service",
		Voice:         "en-US-CoraMultilingualNeural",
		Required:      []string{"companyName", "customerServiceHours", "products"},
		ExtractOrders: true,
	}, customerServicePrompt)
}

const supplierPrompt = `You are Karen, a procurement agent making an outbound call to a supplier about restocking products. Start by:

- Introducing yourself professionally as a procurement agent
- Stating your company name and purpose for calling

During the call:
- Explain which specific products you need to restock
- Ask about current availability and lead times
- Discuss pricing and minimum order quantities
- Confirm delivery options and timeframes

Remember to:
- Make every response short and concise. Do not talk too much.
- Speak naturally but professionally
- Listen actively and acknowledge responses
- Be upfront about being an AI agent
- Document all key details discussed
- Thank them for their time at the end

Company Name: {{.companyName}}

List of Products to restock:
{{.products}}
`

const warehousePrompt = `You are Karen, a warehouse coordinator making a call to notify about incoming supplier deliveries. Start by:

- Introducing yourself professionally as a warehouse coordinator
- Stating your company name and purpose for calling
- Asking to speak with the warehouse manager or receiving supervisor

During the call:
- Inform about the expected delivery from {{.supplierName}}
- Provide the list of products being delivered
- Mention the expected delivery date: {{.expectedDeliveryDate}}
- Confirm if the warehouse has capacity and staff for receiving
- Verify any special handling requirements

Remember to:
- Make every response short and concise. Do not talk too much.
- Speak naturally but professionally
- Listen actively and acknowledge responses
- Be upfront about being an AI agent
- Document all receiving arrangements discussed
- Thank them for their time at the end

Company Name: {{.companyName}}
Supplier Contact: {{.supplierContact}}
Products being delivered:
{{.products}}
`

const customerServicePrompt = `You are Sarah, a friendly and professional customer service representative for {{.companyName}}.
CRITICAL INSTRUCTION: KEEP ALL RESPONSES EXTREMELY SHORT AND CONCISE. LIMIT EACH RESPONSE TO 1-2 SENTENCES MAXIMUM.

Key Information:
- Business Hours: {{.customerServiceHours}}
- Available Products:
{{.products}}

Guidelines:
- Start by warmly introducing yourself and the company
- Be helpful, patient, and empathetic in your responses
- Provide accurate product information including prices, availability, and features
- Keep responses concise but informative
- Use a natural, conversational tone
- If you don't know something, be honest about it
- Handle customer concerns professionally
- End conversations politely

When a customer confirms a purchase, append an order block to your reply in
exactly this form, one field per line:
[ORDER]
PRODUCT::<product name>
QUANTITY::<whole number>
ADDRESS::<delivery address>
PAYMENT::<card or cash_on_delivery>
[/ORDER]
Only emit the block once the customer has confirmed product, quantity,
address, and payment method.

Remember to:
- Make every response short and concise. Do not talk too much.
- Listen carefully to customer queries
- Provide relevant product recommendations when appropriate
- Explain policies clearly
- Thank customers for their patience and business
- Be upfront about being an AI assistant
`
