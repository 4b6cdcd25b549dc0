package scenario

import (
	"errors"
	"strings"
	"testing"
)

func supplierParams() map[string]string {
	return map[string]string{
		"companyName": "Acme Retail",
		"products":    FormatProducts([]string{"M6 bolts", "wing nuts"}),
	}
}

func TestGet(t *testing.T) {
	for _, name := range []string{"supplier", "warehouse", "customer-service"} {
		t.Run(name, func(t *testing.T) {
			s, err := Get(name)
			if err != nil {
				t.Fatalf("Get(%q): %v", name, err)
			}
			if s.Name != name {
				t.Errorf("want name %q, got %q", name, s.Name)
			}
			if s.Voice == "" {
				t.Error("every scenario needs a voice")
			}
		})
	}

	if _, err := Get("nope"); !errors.Is(err, ErrUnknown) {
		t.Errorf("want ErrUnknown, got %v", err)
	}
}

func TestRenderSystemPrompt(t *testing.T) {
	s, err := Get("supplier")
	if err != nil {
		t.Fatal(err)
	}

	prompt, err := s.RenderSystemPrompt(supplierParams())
	if err != nil {
		t.Fatalf("RenderSystemPrompt: %v", err)
	}
	if !strings.Contains(prompt, "Acme Retail") {
		t.Error("want company name substituted")
	}
	if !strings.Contains(prompt, "- M6 bolts") {
		t.Error("want product list substituted")
	}
	if strings.Contains(prompt, "{{") {
		t.Error("unresolved template action left in prompt")
	}
}

func TestRenderSystemPrompt_MissingParam(t *testing.T) {
	s, err := Get("warehouse")
	if err != nil {
		t.Fatal(err)
	}

	params := map[string]string{
		"companyName":          "Acme Retail",
		"supplierName":         "Bolt & Co",
		"supplierContact":      "555-0100",
		"expectedDeliveryDate": "2026-09-15",
		// products missing
	}
	_, err = s.RenderSystemPrompt(params)
	if !errors.Is(err, ErrMissingParam) {
		t.Fatalf("want ErrMissingParam, got %v", err)
	}
	if !strings.Contains(err.Error(), "products") {
		t.Errorf("error must name the parameter: %v", err)
	}

	t.Run("empty counts as missing", func(t *testing.T) {
		params["products"] = "   "
		if _, err := s.RenderSystemPrompt(params); !errors.Is(err, ErrMissingParam) {
			t.Errorf("want ErrMissingParam for blank value, got %v", err)
		}
	})
}

func TestOnlyCustomerServiceExtractsOrders(t *testing.T) {
	for _, name := range Names() {
		s, _ := Get(name)
		want := name == "customer-service"
		if s.ExtractOrders != want {
			t.Errorf("%s: ExtractOrders = %v, want %v", name, s.ExtractOrders, want)
		}
	}
}

func TestFormatProducts(t *testing.T) {
	got := FormatProducts([]string{"a", " ", "b"})
	if got != "- a\n- b" {
		t.Errorf("want two lines, got %q", got)
	}
	if FormatProducts(nil) != "" {
		t.Error("want empty string for no products")
	}
}
