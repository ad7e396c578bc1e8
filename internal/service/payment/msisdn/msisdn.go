// internal/service/payment/msisdn/msisdn.go

// Package msisdn 提供喀麦隆手机号的规范化与运营商识别。
// 这里只做纯函数处理，不依赖任何外部服务。
package msisdn

import "strings"

// CountryCode 是喀麦隆的国际区号。规范形式为 "237" + 9 位本地号码。
const CountryCode = "237"

// 运营商代码，与支付网关的 operator 参数一致。
const (
	OperatorMTN    = "CM_MTNMOBILEMONEY"
	OperatorOrange = "CM_ORANGEMONEY"
)

// Rule 将一组号段前缀映射到一个运营商。
// 号段由运营商分配且会漂移，因此作为配置数据注入而不是写死在代码里。
type Rule struct {
	Operator string   `yaml:"operator"`
	Prefixes []string `yaml:"prefixes"`
}

// DefaultRules 返回内置的号段表，配置文件缺省时使用。
// 2 位前缀覆盖整段（67x -> MTN, 69x -> Orange），65/68 段按 3 位前缀拆分。
func DefaultRules() []Rule {
	return []Rule{
		{
			Operator: OperatorMTN,
			Prefixes: []string{"67", "650", "651", "652", "653", "654", "680", "681", "682", "683", "684"},
		},
		{
			Operator: OperatorOrange,
			Prefixes: []string{"69", "655", "656", "657", "658", "659", "685", "686", "687", "688", "689"},
		},
	}
}

// Normalize 尽力把用户输入的手机号转成规范的国际形式（纯数字，237 开头）。
// 可识别的形态：
//   - 已规范的 12 位（237 + 9 位）
//   - 本地 9 位手机号
//   - 带长途 0 前缀的 10 位
//   - 老式 8 位用户号（补一位 6 升为 9 位）
//
// 无法识别的形态原样（去掉非数字后）返回，由网关做最终校验，这里不报错。
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, CountryCode):
		return digits
	case len(digits) == 9:
		return CountryCode + digits
	case len(digits) == 10 && strings.HasPrefix(digits, "0"):
		return CountryCode + digits[1:]
	case len(digits) == 8:
		// 历史上的 8 位号码在 2014 年升位时统一加了前导 6
		return CountryCode + "6" + digits
	}
	return digits
}

// DetectOperator 根据号段表推断运营商，输入应当是 Normalize 之后的号码。
// 先匹配 3 位前缀再匹配 2 位，保证 65x/68x 的细分段优先生效。
// 没有任何号段命中时回退到 MTN，这是一个有意的缺省而不是错误。
func DetectOperator(rules []Rule, canonical string) string {
	local := strings.TrimPrefix(canonical, CountryCode)
	if len(rules) == 0 {
		rules = DefaultRules()
	}

	best := ""
	bestLen := 0
	for _, rule := range rules {
		for _, prefix := range rule.Prefixes {
			if strings.HasPrefix(local, prefix) && len(prefix) > bestLen {
				best = rule.Operator
				bestLen = len(prefix)
			}
		}
	}
	if best == "" {
		return OperatorMTN
	}
	return best
}
