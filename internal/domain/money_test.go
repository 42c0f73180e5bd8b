package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"zero", "0", "0.00", false},
		{"whole", "10", "10.00", false},
		{"two places", "148.50", "148.50", false},
		{"rounds half up", "1.005", "1.01", false},
		{"rounds down", "1.004", "1.00", false},
		{"rounds 0.125", "0.125", "0.13", false},
		{"large", "1000000", "1000000.00", false},
		{"negative", "-1", "", true},
		{"tiny negative", "-0.001", "", true},
		{"not a number", "abc", "", true},
		{"largest value", "999999999999999999.99", "999999999999999999.99", false},
		{"nineteen integer digits", "1000000000000000000", "", true},
		{"rounds past the limit", "999999999999999999.995", "", true},
		{"below half a cent", "0.0004", "0.00", false},
		{"exponent form", "1.5e3", "1500.00", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseQuantity(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("ParseQuantity(%q) error = %v, want ErrInvalidArgument", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseQuantity(%q) unexpected error: %v", tt.input, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseQuantity(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseQuantity_HugeExponent(t *testing.T) {
	inputs := []string{"1e20000000", "1e-20000000", "0e20000000", "5e18"}
	want := []string{"", "0.00", "0.00", ""}

	for i, in := range inputs {
		start := time.Now()
		got, err := ParseQuantity(in)
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("ParseQuantity(%q) took %v", in, elapsed)
		}
		if want[i] == "" {
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("ParseQuantity(%q) error = %v, want ErrInvalidArgument", in, err)
			}
			continue
		}
		if err != nil || got.String() != want[i] {
			t.Errorf("ParseQuantity(%q) = %s, %v; want %s", in, got, err, want[i])
		}
	}

	var q Quantity
	err := json.Unmarshal([]byte(`"1e20000000"`), &q)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unmarshal huge exponent error = %v, want ErrInvalidArgument", err)
	}
}

func TestMoney_ArithmeticOverflow(t *testing.T) {
	price := MustMoney("1000000000")
	size := MustQuantity("1000000000")

	if _, err := price.MulQuantity(size); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("1e9 x 1e9 error = %v, want ErrInvalidArgument", err)
	}

	top := MustQuantity("999999999999999999.99")
	if _, err := top.Add(MustQuantity("0.01")); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("max + 0.01 error = %v, want ErrInvalidArgument", err)
	}
}

func TestQuantity_Arithmetic(t *testing.T) {
	ten := MustQuantity("10")
	three := MustQuantity("3")

	sum, err := ten.Add(three)
	if err != nil || sum.String() != "13.00" {
		t.Errorf("10 + 3 = %s, %v; want 13.00", sum, err)
	}

	diff, err := ten.Sub(three)
	if err != nil || diff.String() != "7.00" {
		t.Errorf("10 - 3 = %s, %v; want 7.00", diff, err)
	}

	if _, err := three.Sub(ten); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("3 - 10 error = %v, want ErrInvalidArgument", err)
	}

	prod, err := three.Mul(decimal.RequireFromString("1.5"))
	if err != nil || prod.String() != "4.50" {
		t.Errorf("3 * 1.5 = %s, %v; want 4.50", prod, err)
	}

	quot, err := ten.Div(decimal.NewFromInt(3))
	if err != nil || quot.String() != "3.33" {
		t.Errorf("10 / 3 = %s, %v; want 3.33", quot, err)
	}

	if _, err := ten.Div(decimal.Zero); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("10 / 0 error = %v, want ErrInvalidArgument", err)
	}
	if _, err := ten.Mul(decimal.NewFromInt(-1)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("10 * -1 error = %v, want ErrInvalidArgument", err)
	}
}

func TestQuantity_NullOperands(t *testing.T) {
	var null Quantity
	one := MustQuantity("1")

	if !null.IsNull() {
		t.Fatal("zero value Quantity should be null")
	}
	if _, err := one.Add(null); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("1 + null error = %v, want ErrInvalidArgument", err)
	}
	if _, err := null.Add(one); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("null + 1 error = %v, want ErrInvalidArgument", err)
	}
	if _, err := one.Sub(null); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("1 - null error = %v, want ErrInvalidArgument", err)
	}
	if _, err := null.Mul(decimal.NewFromInt(2)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("null * 2 error = %v, want ErrInvalidArgument", err)
	}
	if _, err := MustMoney("1").MulQuantity(null); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("money * null error = %v, want ErrInvalidArgument", err)
	}
}

func TestQuantity_Immutable(t *testing.T) {
	q := MustQuantity("5")
	if _, err := q.Add(MustQuantity("1")); err != nil {
		t.Fatal(err)
	}
	if q.String() != "5.00" {
		t.Errorf("Add mutated receiver: got %s, want 5.00", q)
	}
}

func TestMoney_MulQuantity(t *testing.T) {
	tests := []struct {
		price, size, want string
	}{
		{"150.00", "10", "1500.00"},
		{"110.00", "5", "550.00"},
		{"0.01", "0.01", "0.00"},
		{"0.05", "0.1", "0.01"},
		{"19.99", "3", "59.97"},
	}
	for _, tt := range tests {
		got, err := MustMoney(tt.price).MulQuantity(MustQuantity(tt.size))
		if err != nil {
			t.Fatalf("%s * %s: %v", tt.price, tt.size, err)
		}
		if got.String() != tt.want {
			t.Errorf("%s * %s = %s, want %s", tt.price, tt.size, got, tt.want)
		}
	}
}

func TestMoney_Sub(t *testing.T) {
	got, err := MustMoney("10000").Sub(MustMoney("1500"))
	if err != nil || got.String() != "8500.00" {
		t.Errorf("10000 - 1500 = %s, %v; want 8500.00", got, err)
	}
	if _, err := MustMoney("1").Sub(MustMoney("1.01")); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("1 - 1.01 error = %v, want ErrInvalidArgument", err)
	}
}

func TestMoney_QuantityConversion(t *testing.T) {
	q := MustMoney("550.00").Quantity()
	if !q.Equal(MustQuantity("550")) {
		t.Errorf("Quantity() = %s, want 550.00", q)
	}
	var null Money
	if !null.Quantity().IsNull() {
		t.Error("null money should convert to null quantity")
	}
}

func TestQuantity_Compare(t *testing.T) {
	a := MustQuantity("1.00")
	b := MustQuantity("1")
	c := MustQuantity("1.01")

	if !a.Equal(b) {
		t.Error("1.00 should equal 1")
	}
	if !c.GreaterThan(a) || !a.LessThan(c) {
		t.Error("1.01 should be greater than 1.00")
	}
	if !ZeroQuantity().IsZero() || ZeroQuantity().IsPositive() {
		t.Error("ZeroQuantity should be zero and not positive")
	}
}

func TestQuantity_JSON(t *testing.T) {
	type payload struct {
		Size  Quantity `json:"size"`
		Price Money    `json:"price"`
	}

	b, err := json.Marshal(payload{Size: MustQuantity("10"), Price: MustMoney("150")})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"size":10.00,"price":150.00}` {
		t.Errorf("Marshal = %s", b)
	}

	var p payload
	if err := json.Unmarshal([]byte(`{"size":"2.5","price":99.999}`), &p); err != nil {
		t.Fatal(err)
	}
	if p.Size.String() != "2.50" || p.Price.String() != "100.00" {
		t.Errorf("Unmarshal = %s / %s, want 2.50 / 100.00", p.Size, p.Price)
	}

	if err := json.Unmarshal([]byte(`{"size":-1}`), &p); err == nil {
		t.Error("Unmarshal of negative size should fail")
	}

	var n payload
	if err := json.Unmarshal([]byte(`{"size":null}`), &n); err != nil {
		t.Fatal(err)
	}
	if !n.Size.IsNull() {
		t.Error("null JSON should decode to null quantity")
	}
}
