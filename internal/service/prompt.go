package service

import (
	"fmt"
	"strings"

	"fin-chat-go/internal/model"
)

// chartContract 告诉模型何时以及如何输出结构化图表回复。
const chartContract = "When (and only when) the user asks for a chart, graph or other visualization, " +
	"reply with a single JSON object inside a ```json fenced code block and nothing else:\n" +
	"{\"text\": \"<short explanation of the chart>\", \"visual\": \"<self-contained HTML/SVG fragment with inline styles and no external scripts>\"}\n" +
	"For every other request, reply in plain Markdown without any JSON."

const deepResearchDirective = "Deep research is enabled: you may search the web for current market data, " +
	"rates and news, and cite the sources you used."

// buildSystemInstruction 根据会话参数生成系统指令，仅在创建模型上下文时使用一次。
func buildSystemInstruction(p model.ContextParameters, rules string) string {
	var sys strings.Builder

	bank := p.BankName
	if bank == "" {
		bank = "the user's bank"
	}
	fmt.Fprintf(&sys, "You are a professional financial analyst assistant working with %s. ", bank)
	sys.WriteString("Answer questions about personal finance, banking products, spending and investments clearly and accurately. ")
	sys.WriteString("Never invent account data; when information is missing, say so.\n\n")

	sys.WriteString("User context:\n")
	if p.UserName != "" {
		fmt.Fprintf(&sys, "- Name: %s\n", p.UserName)
	}
	if p.BankID != "" {
		fmt.Fprintf(&sys, "- Selected bank: %s (%s)\n", bank, p.BankID)
	}
	if p.RiskTolerance != "" {
		fmt.Fprintf(&sys, "- Risk tolerance: %s\n", p.RiskTolerance)
	}
	if p.InvestmentHorizon != "" {
		fmt.Fprintf(&sys, "- Investment horizon: %s\n", p.InvestmentHorizon)
	}
	sys.WriteString("Tailor recommendations to this risk tolerance and horizon.\n\n")

	sys.WriteString(chartContract)

	if p.DeepResearch {
		sys.WriteString("\n\n")
		sys.WriteString(deepResearchDirective)
	}
	if rules != "" {
		sys.WriteString("\n\n")
		sys.WriteString(rules)
	}
	return sys.String()
}
