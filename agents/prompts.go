package agents

// 各步骤的推理指令。测试用脚本化推理器按子串匹配这些指令。

const promptClassifyIntent = `分析用户消息，确定其意图类别。
可能的意图类别包括:
- knowledge_qa: 用户询问机场知识、规定、设施等信息
- flight_info: 用户查询航班信息，如起降时间、状态等
- business_service: 用户需要办理业务，如值机、改签、退票等
- other: 其他意图，如打招呼、闲聊等

回复格式:
{
  "intent": "意图类别",
  "confidence": 0.0-1.0的置信度得分
}`

const promptGeneralReply = `你是机场智能客服助手。
请礼貌地回复用户的一般性问题。
如果用户询问超出你能力范围的问题，可以引导他们尝试更专业的查询方式，
如询问航班信息、咨询机场规定或办理业务等。`

const promptAnalyzeQuery = `分析用户的问题是否完整、是否包含足够的信息用于知识检索。

回复格式:
{
  "complete": true或false,
  "query": "提炼后的检索查询",
  "missing_info": ["缺失信息1", "缺失信息2"]
}`

const promptAskSpecifics = `检索到的信息与用户问题相关性较低。
生成一个简短、清晰的反问，帮助用户更具体地表达需求。不要超过两句话。`

const promptSelectStyle = `根据用户的提问语气选择回复风格。

回复格式:
{"style": "direct、reassuring、friendly或professional之一"}`

const promptGenerateAnswer = `你是机场智能客服。请根据检索到的上下文回答用户的问题。
只使用上下文中的信息，不要编造。上下文如下：
`

const promptSimplifyAnswer = `简化以下回答，使其:
1. 保留核心信息
2. 不超过100字
3. 语气保持友好`

const promptFormatWithStyle = `请保持以下回答的核心内容不变，将其改写为指定风格。风格：`

const promptExtractFlightParams = `从用户消息中提取航班查询参数。

回复格式:
{
  "flight_number": "航班号，如CA1384，没有则留空",
  "airline": "航空公司，没有则留空",
  "departure_city": "出发城市，没有则留空",
  "arrival_city": "到达城市，没有则留空",
  "status": "航班状态（准点/延误/取消），没有则留空"
}`

const promptIdentifyService = `识别用户想办理的业务类型。
可选类型：值机、改签、退票、行李托运、遗失物品查询。

回复格式:
{
  "service_type": "业务类型",
  "confidence": 0.0-1.0的置信度得分,
  "params": {"已提取的参数名": "参数值"}
}`

const promptCollectServiceParams = `从对话中提取业务办理所需的参数。
可能的参数：flight_number（航班号）、passenger_name（乘机人姓名）、
new_date（新的出行日期）、baggage_weight（行李重量）、
item_description（物品描述）、seat_preference（座位偏好）、
refund_reason（退票原因）、loss_location（遗失地点）、loss_time（遗失时间）。

回复格式:
{"params": {"参数名": "参数值"}}`
