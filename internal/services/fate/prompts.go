package fate

import (
	"fmt"
	"strings"

	"github.com/ternarybob/fateline/internal/models"
)

const systemPrompt = "你是一位精通中国命理学、熟读《子平真诠》《三命通会》《穷通宝鉴》的老先生，同时具备现代统计建模意识。只输出 JSON，不要输出 Markdown、代码块或任何解释。"

const reportSchemaHint = `{
  "overall": {"score": 0, "content": "", "summary": ""},
  "investment": {"score": 0, "content": "", "summary": ""},
  "career": {"score": 0, "content": "", "summary": ""},
  "wealth": {"score": 0, "content": "", "summary": ""},
  "love": {"score": 0, "content": "", "summary": ""},
  "health": {"score": 0, "content": "", "summary": ""},
  "family": {"score": 0, "content": "", "summary": ""}
}`

// formatPillars renders the four pillars separated by spaces
func formatPillars(bazi *models.BaZiInfo) string {
	return strings.Join([]string{bazi.YearPillar, bazi.MonthPillar, bazi.DayPillar, bazi.HourPillar}, " ")
}

// formatDaYun renders the luck periods as "起运年龄岁(起运年份)干支" entries
func formatDaYun(bazi *models.BaZiInfo) string {
	if len(bazi.DaYunList) == 0 {
		return "无"
	}
	parts := make([]string, 0, len(bazi.DaYunList))
	for _, dy := range bazi.DaYunList {
		parts = append(parts, fmt.Sprintf("%d岁(%d)%s", dy.StartAge, dy.StartYear, dy.GanZhi))
	}
	return strings.Join(parts, "，")
}

func baselinePrompt(bazi *models.BaZiInfo, gender string) string {
	return fmt.Sprintf(`人生运势可以抽象为一个围绕命格基础值上下波动的长期状态指数。当前任务只做一件事：定命格基线（Baseline）。

【一、用户基础信息】
出生八字：%s
性别：%s
大运排盘：%s

【二、任务目标】
基于八字结构与大运总体质量，评估此人一生的人生运势基础分。这是一个 0–100 的长期均值，代表若无流年扰动、取人生平均状态时，此人一生运势大致站在什么水平线附近。

【三、命理评估要求】
必须综合评估并说明：日主强弱；用神与忌神是否清晰；格局高低；大运整体走向；是否存在明显结构性缺陷（如财多身弱、官杀混杂）。

【四、数值约束】
输出一个整数 baseline，必须满足 20 ≤ baseline ≤ 80。

【五、输出格式】
{"baseline": 62, "analysis": "……"}
禁止输出年龄、K线、年度描述、AI自述或免责声明。`,
		formatPillars(bazi), gender, formatDaYun(bazi))
}

func factsPrompt(bazi *models.BaZiInfo, gender string, maxAge int) string {
	return fmt.Sprintf(`你当前只允许做命理事实推演，不允许做任何数值建模或运势量化。

【一、用户基础信息】
出生八字：%s
性别：%s
大运排盘：%s

【二、任务目标】
生成 1–%d 岁逐年大运与流年命理事实表。

【三、每一年必须包含】
- dayun：当年所处大运干支
- dayun_effect：运势性质（扶身 / 克身 / 中性）
- liunian：流年干支
- relations：与原局或大运的关系（刑/冲/合/害/破/穿/半合/伏吟/反吟/十神得失等）
- judgement：综合命理判断（偏吉 / 偏凶 / 中平 三选一）
- comment：现实落点提示，结合年龄阶段落到学业/事业/财运/婚姻/健康/家庭，必须具体

【四、严格禁止】
任何数值（分数、区间、涨跌）；K线、走势、指数、趋势词；open / close / Bullish / Bearish。

【五、输出格式】
{"items": [{"age": 1, "dayun": "甲子", "dayun_effect": "扶身", "liunian": "乙丑", "relations": ["合"], "judgement": "偏吉", "comment": "……"}]}`,
		formatPillars(bazi), gender, formatDaYun(bazi), maxAge)
}

func yearlyScoresPrompt(bazi *models.BaZiInfo, gender string, baseline, years int) string {
	return fmt.Sprintf(`请基于八字信息，模拟生成一份长达 %d 年的人生运势 K 线数据。

# 八字
- 年柱：%s
- 月柱：%s
- 日柱：%s
- 时柱：%s
- 性别：%s
- 大运序列：%s

# 评分逻辑
1. 初始分设为 %d。
2. 根据大运序列设定各运底分区间，喜用大运底分高，忌神大运底分低。
3. 流年与喜用相合则当年分数上涨，与忌神相合则下跌或调整。
4. 第 N 年的 open 必须等于第 N-1 年的 close；close 由当年运势打分决定；score 取当年 close。
5. 一年一条，共 %d 条。
6. content 必须包含命理依据与现实影响（结合年龄阶段）。

# 输出格式
{"items": [{"age": 1, "open": 50, "close": 55, "score": 55, "content": "..."}]}`,
		years,
		bazi.YearPillar, bazi.MonthPillar, bazi.DayPillar, bazi.HourPillar,
		gender, formatDaYun(bazi), baseline, years)
}

func reportPrompt(bazi *models.BaZiInfo, gender string) string {
	return fmt.Sprintf(`你同时精通现代金融。用户八字：%s（性别：%s）。

请生成一份结构化的投资人生运势报告：
1. 命理总评：分析格局高低，喜用神。
2. 投资与事业：结合偏财、七杀等十神心性，判断适合长期持有还是高频投机。
3. 财富层级。
4. 情感婚姻简述。
5. 身体健康简述。
6. 六亲关系简述。
每个部分给出 0–10 的 score、Markdown 格式的 content 与一句话 summary。

输出格式（严格遵守键名与结构）：
%s`,
		formatPillars(bazi), gender, reportSchemaHint)
}
