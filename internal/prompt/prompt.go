// Package prompt builds the model requests for each pipeline stage.
// The orchestrator treats prompts as an opaque collaborator: it hands
// over the stage name and gathered inputs, and gets back a gateway
// request. The persona string is injected verbatim and never parsed.
package prompt

import (
	"fmt"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/domain"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/gateway"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/graph"
)

const extractTextPrompt = `你是一个专业的题目提取助手。请仔细观察这张图片，提取其中的题目内容。

要求：
1. 只提取题干和选项（如果有），不要解答
2. 使用纯文本格式输出，保持原题的结构
3. 如果有图表，用文字描述图表内容
4. 如果有多道题，全部提取

请直接输出提取的题目内容，不要添加任何解释或评论。`

const deepAnswerTemplate = `下面是一道学生做错的题目，请给出详细、严谨的解答过程。

## 题目
%s

要求：先给出正确答案，再逐步展开推理过程，最后指出这道题最容易出错的地方。`

const quickSummaryTemplate = `请分析下面这道题目主要考察哪些考点，用简洁的要点列出（3-5条）。

## 题目
%s

只输出考点列表，不要解答题目。`

const logicChainTemplate = `请把下面的解答过程分解成3-7个清晰的解题步骤，每个步骤一行，并在最后用一句话总结这类题的思维模式。

## 题目
%s

## 解答
%s`

const knowledgePointsTemplate = `请从下面的题目和解答中提取涉及的知识点和常见易错点。

## 题目
%s

## 解答
%s

先列知识点，再列易错点，都用要点形式。`

const guidedReplyTemplate = `我们正在分步攻克这道题，当前是第%d步（共%d步）：%s。

## 原题目
%s

## 本步骤内容
%s

## 学生的最新回答
“%s”

请先用一两句话回应学生的回答：正确就给予肯定，错误或不完整就温和指出。然后完整讲解本步骤的正确结论，要结合题干里的具体信息。最后提出一个针对本步骤、有明确答案的引导问题，以？结尾。整体控制在120字左右。`

// Builder constructs gateway requests for pipeline stages.
type Builder struct {
	persona string
}

// NewBuilder creates a prompt builder carrying the configured persona.
func NewBuilder(persona string) *Builder {
	return &Builder{persona: persona}
}

// Build assembles the gateway request for one dispatched stage.
func (b *Builder) Build(stage string, role domain.Role, in domain.StageInput) (gateway.Request, error) {
	req := gateway.Request{Role: role, System: b.persona}

	switch stage {
	case graph.StageExtractText:
		req.Prompt = extractTextPrompt
		req.Image = in.Image
		req.ImageMIME = in.ImageMIME
		req.System = "" // extraction follows a fixed instruction, not the persona
	case graph.StageDeepAnswer:
		req.Prompt = fmt.Sprintf(deepAnswerTemplate, in.Outputs[graph.StageExtractText])
	case graph.StageQuickSummary:
		req.Prompt = fmt.Sprintf(quickSummaryTemplate, in.Outputs[graph.StageExtractText])
	case graph.StageLogicChain:
		req.Prompt = fmt.Sprintf(logicChainTemplate, in.Question, in.Outputs[graph.StageDeepAnswer])
	case graph.StageKnowledgePoints:
		req.Prompt = fmt.Sprintf(knowledgePointsTemplate, in.Question, in.Outputs[graph.StageDeepAnswer])
	case graph.StageChatReply:
		req.Prompt = in.Message
		req.History = in.History
		if g := in.Guide; g != nil {
			req.Prompt = fmt.Sprintf(guidedReplyTemplate,
				g.Step.Index+1, g.Total, g.Step.Title, in.Question, g.Step.Description, in.Message)
		}
	default:
		return gateway.Request{}, fmt.Errorf("no prompt template for stage %q", stage)
	}
	return req, nil
}
