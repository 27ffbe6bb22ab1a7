// Package guide turns the pipeline's solving-steps breakdown into a
// step-by-step tutoring plan: it parses the numbered steps out of the
// logic-chain output, derives a short title and a concrete guiding
// question for each, and recognizes the chat phrases that pick a
// tutoring style or bail out of guidance.
package guide

import (
	"regexp"
	"strings"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/domain"
)

// Style is the student's chosen tutoring mode.
type Style string

const (
	StyleGuided Style = "guided" // 引导式：一步一步带着走
	StyleDirect Style = "direct" // 直接解答
)

// maxSteps caps the plan; a longer breakdown gets truncated.
const maxSteps = 7

// escapePhrases end guided mode and hand over the full answer.
var escapePhrases = []string{
	"直接告诉我答案", "直接给我答案", "我不会", "不会做",
	"告诉我完整答案", "直接解答", "跳过引导", "跳过",
	"不想思考了", "直接说答案", "给我答案", "看答案",
	"放弃", "太难了", "想不出来", "不知道怎么做",
	"直接给答案", "完整答案", "全部答案",
}

// stepPrefix matches the numbering a solving-steps line starts with:
// "1." / "1、" / "步骤1：" / "第一步：" and similar.
var stepPrefix = regexp.MustCompile(`^\s*(?:步骤\s*\d+\s*[、.．:：)）]?|第\s*[0-9一二三四五六七八九十]+\s*步?\s*[、.．:：)）]?|\d+\s*[、.．:：)）])\s*`)

// ParseStyle interprets the student's mode choice. "1" or anything
// mentioning 引导 selects guided tutoring; everything else asks for the
// answer outright.
func ParseStyle(message string) Style {
	m := strings.TrimSpace(message)
	if m == "1" || strings.Contains(m, "引导") {
		return StyleGuided
	}
	return StyleDirect
}

// IsEscape reports whether the message asks to stop being guided and
// just see the answer.
func IsEscape(message string) bool {
	for _, p := range escapePhrases {
		if strings.Contains(message, p) {
			return true
		}
	}
	return false
}

// Steps extracts the guided tutoring plan from the logic-chain output.
// Each numbered line becomes one step; a breakdown with no recognizable
// step lines yields an empty plan.
func Steps(chain string) []domain.GuidedStep {
	var steps []domain.GuidedStep
	for _, line := range strings.Split(chain, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*> \t"))
		if line == "" {
			continue
		}
		m := stepPrefix.FindString(line)
		if m == "" {
			continue
		}
		desc := strings.TrimSpace(line[len(m):])
		if desc == "" {
			continue
		}
		steps = append(steps, domain.GuidedStep{
			Index:       len(steps),
			Title:       stepTitle(desc),
			Description: desc,
			Question:    stepQuestion(desc),
		})
		if len(steps) == maxSteps {
			break
		}
	}
	return steps
}

// stepTitle takes the phrase before the first separator, clipped to
// ten characters.
func stepTitle(desc string) string {
	title := desc
	for _, sep := range []string{"：", ":", "，", ","} {
		if i := strings.Index(title, sep); i > 0 {
			title = title[:i]
			break
		}
	}
	r := []rune(title)
	if len(r) > 10 {
		return string(r[:10]) + "..."
	}
	return title
}

// stepQuestion derives a question with a checkable answer from the
// step content, keyed off the biology topic it mentions.
func stepQuestion(desc string) string {
	title := stepTitle(desc)
	switch {
	case strings.Contains(desc, "营养级") || strings.Contains(desc, "食物链"):
		return "在这条食物链中，" + title + "属于第几营养级？"
	case strings.Contains(desc, "能量"):
		return "根据能量传递效率，这一步需要计算的能量值是多少？"
	case strings.Contains(desc, "光合作用"):
		return "光合作用中，" + title + "发生在什么部位？"
	case strings.Contains(desc, "呼吸作用"):
		return "呼吸作用中，" + title + "的产物是什么？"
	case strings.Contains(desc, "遗传") || strings.Contains(desc, "基因"):
		return "根据遗传规律，" + title + "的基因型是什么？"
	case strings.Contains(desc, "比例") || strings.Contains(desc, "概率"):
		return "根据分析，这个比例或概率的具体数值是多少？"
	case strings.Contains(desc, "判断") || strings.Contains(desc, "正确") || strings.Contains(desc, "错误"):
		return "这个选项的说法是正确还是错误？请说出你的判断。"
	default:
		return "关于" + title + "，正确的答案或结论是什么？"
	}
}
